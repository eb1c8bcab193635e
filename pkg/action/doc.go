// Package action parses the model's action grammar into typed actions.
//
// The grammar has two call shapes:
//
//	finish(message="<free text>")
//	do(action=<Name>, field=value, field="quoted", field=[a,b], ...)
//
// Invariants:
//
//   - Parsing is pure: no I/O, no logging, no dependence on device state.
//   - When several calls appear, the last one wins.
//   - Field values are kept verbatim; coordinates and durations are
//     interpreted by the caller through ParsePoint and ParseSeconds.
//
// Usage:
//
//	rationale, answer := action.SplitRationaleAndAnswer(raw)
//	switch a := action.Parse(answer).(type) {
//	case action.Finish:
//	case action.Do:
//	case action.Unknown:
//	}
package action
