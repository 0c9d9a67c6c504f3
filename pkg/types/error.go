package types

// ConstError is an error that can be declared as a constant, which lets
// packages export sentinel errors that callers match with `errors.Is`.
type ConstError string

func (err ConstError) Error() string { return string(err) }
