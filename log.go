package codm

// EventLog defines event logger that allows us to record events for a
// specific action that occured.
type EventLog interface {
	Log(context interface{}, name string, message string, data ...interface{})
	Error(context interface{}, name string, err error, message string, data ...interface{})
}

//==============================================================================

// nullLog swallows all reports. Used when a QuerySet is built without an
// event logger.
type nullLog struct{}

// Log does nothing with the standard report.
func (nullLog) Log(context interface{}, name string, message string, data ...interface{}) {}

// Error does nothing with the error report.
func (nullLog) Error(context interface{}, name string, err error, message string, data ...interface{}) {
}
