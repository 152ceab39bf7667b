package mpegts

// PIDs reserved for PSI tables by ISO/IEC 13818-1.
const (
	PIDPAT  = 0x0000
	PIDCAT  = 0x0001
	PIDTSDT = 0x0002
	PIDIPMP = 0x0003
	PIDNull = nullPID
)

// Classifier tells the codec what a PID carries. PMT PIDs, for example, are
// only known once the PAT has been read, so the stream-level registry that
// knows them is supplied by the caller.
type Classifier interface {
	Classify(pid uint16) PayloadKind
}

// ClassifierFunc adapts a function to a Classifier.
type ClassifierFunc func(pid uint16) PayloadKind

// Classify calls f(pid).
func (f ClassifierFunc) Classify(pid uint16) PayloadKind {
	return f(pid)
}

// DefaultClassifier marks the reserved PSI PIDs as PSI and everything else
// as opaque.
var DefaultClassifier Classifier = ClassifierFunc(classifyReserved)

func classifyReserved(pid uint16) PayloadKind {
	switch pid {
	case PIDPAT, PIDCAT, PIDTSDT, PIDIPMP:
		return KindPSI
	}
	return KindOpaque
}

// PIDTable is a static PID classification. PIDs missing from the table fall
// back to DefaultClassifier.
type PIDTable map[uint16]PayloadKind

// Classify implements Classifier.
func (t PIDTable) Classify(pid uint16) PayloadKind {
	if k, ok := t[pid]; ok {
		return k
	}
	return classifyReserved(pid)
}
