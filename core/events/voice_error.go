package events

const (
	KindErrorRaised  Kind = "voice_error.raised"
	KindErrorCleared Kind = "voice_error.cleared"
)

type ErrorRaised struct {
	Base
	Class   string
	Code    string
	Message string
}

func NewErrorRaised(class, code, message string) ErrorRaised {
	return ErrorRaised{Base: NewBase(KindErrorRaised), Class: class, Code: code, Message: message}
}

type ErrorCleared struct {
	Base
	Class string
}

func NewErrorCleared(class string) ErrorCleared {
	return ErrorCleared{Base: NewBase(KindErrorCleared), Class: class}
}
