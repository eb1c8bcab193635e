package action

// Action names understood by the dispatcher.
const (
	Launch    = "Launch"
	Tap       = "Tap"
	Type      = "Type"
	TypeName  = "Type_Name"
	Swipe     = "Swipe"
	Back      = "Back"
	Home      = "Home"
	Wait      = "Wait"
	TakeOver  = "Take_over"
	LongPress = "Long Press"
	DoubleTap = "Double Tap"
)

// Field keys used by the built-in actions.
const (
	FieldApp   = "app"
	FieldElem  = "element"
	FieldText  = "text"
	FieldStart = "start"
	FieldEnd   = "end"
	FieldDur   = "duration"
	FieldMsg   = "message"
)

// Parsed is the result of parsing one model answer. It is one of Finish, Do
// or Unknown; the set is closed.
type Parsed interface {
	parsed()
}

// Finish ends the run with Message as the final answer.
type Finish struct {
	Message string
}

// Do asks the dispatcher to perform the named action.
type Do struct {
	Name   string
	Fields map[string]string
}

// Unknown is an answer that matched neither call shape.
type Unknown struct {
	Raw string
}

func (Finish) parsed()  {}
func (Do) parsed()      {}
func (Unknown) parsed() {}

// Field returns the named field and whether it was present.
func (d Do) Field(key string) (string, bool) {
	v, ok := d.Fields[key]
	return v, ok
}

// Kind names the variant of p for logs and metrics.
func Kind(p Parsed) string {
	switch p.(type) {
	case Finish:
		return "finish"
	case Do:
		return "do"
	default:
		return "unknown"
	}
}
