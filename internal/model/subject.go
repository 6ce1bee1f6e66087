package model

// Subject is one graded course inside a semester. Subjects have no identity
// outside their semester.
type Subject struct {
	Code    string  `json:"code"`
	Title   string  `json:"title"`
	Credits float64 `json:"credits"`
	Grade   string  `json:"grade"`
}

// SubjectInput is a subject as submitted by a client.
type SubjectInput struct {
	Code    string  `json:"code" binding:"required,max=20"`
	Title   string  `json:"title" binding:"required,max=200"`
	Credits float64 `json:"credits" binding:"gt=0,lte=30"`
	Grade   string  `json:"grade" binding:"required,grade"`
}

// ToSubject converts the input into a stored subject.
func (in SubjectInput) ToSubject() Subject {
	return Subject{Code: in.Code, Title: in.Title, Credits: in.Credits, Grade: in.Grade}
}
