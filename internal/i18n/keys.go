package i18n

// Message ids. Every id must exist in locales/active.en.json.
const (
	MsgStart             = "start"
	MsgHelp              = "help"
	MsgAddUsage          = "add.usage"
	MsgAddOK             = "add.ok"
	MsgAddInvalidDate    = "add.invalid_date"
	MsgAddInvalidName    = "add.invalid_name"
	MsgAddDuplicate      = "add.duplicate"
	MsgDelUsage          = "del.usage"
	MsgDelOK             = "del.ok"
	MsgNotFound          = "not_found"
	MsgListHeader        = "list.header"
	MsgListEmpty         = "list.empty"
	MsgCalcUsage         = "calc.usage"
	MsgCalcToday         = "calc.today"
	MsgCalcDays          = "calc.days"
	MsgUpcomingHeader    = "upcoming.header"
	MsgUpcomingLine      = "upcoming.line"
	MsgUpcomingLineToday = "upcoming.line_today"
	MsgUpcomingUsage     = "upcoming.usage"
	MsgExportUsage       = "export.usage"
	MsgExportCaption     = "export.caption"
	MsgGreeting          = "greeting"
	MsgGreetingAge       = "greeting.age"
	MsgErrGeneric        = "error.generic"
	MsgErrUnknownCommand = "error.unknown_command"
	MsgErrBusy           = "error.busy"
	MsgEventSummary      = "event.summary"
)

// CommandDescription is the menu description id for a command name.
func CommandDescription(cmd string) string { return "cmd." + cmd }

// AllMessages lists the ids above for completeness checks.
var AllMessages = []string{
	MsgStart, MsgHelp,
	MsgAddUsage, MsgAddOK, MsgAddInvalidDate, MsgAddInvalidName, MsgAddDuplicate,
	MsgDelUsage, MsgDelOK, MsgNotFound,
	MsgListHeader, MsgListEmpty,
	MsgCalcUsage, MsgCalcToday, MsgCalcDays,
	MsgUpcomingHeader, MsgUpcomingLine, MsgUpcomingLineToday, MsgUpcomingUsage,
	MsgExportUsage, MsgExportCaption,
	MsgGreeting, MsgGreetingAge,
	MsgErrGeneric, MsgErrUnknownCommand, MsgErrBusy,
	MsgEventSummary,
}
