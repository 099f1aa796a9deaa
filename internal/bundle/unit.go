package bundle

// Unit is a single file reference carried inside a Bundle together with
// the outcome flags the consumer sets while processing it.
type Unit struct {
	FileName        string
	TransactionID   *string
	FailedToParse   bool
	FailedToProcess bool
}

// NewUnit returns a unit for fileName with cleared flags.
func NewUnit(fileName string) Unit {
	return Unit{FileName: fileName}
}

func (u Unit) equal(o Unit) bool {
	return u.FileName == o.FileName &&
		equalStringPtr(u.TransactionID, o.TransactionID) &&
		u.FailedToParse == o.FailedToParse &&
		u.FailedToProcess == o.FailedToProcess
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
