package transcriber

type StatusKind int

const (
	StatusPending StatusKind = iota
	StatusCompleted
	StatusFailed
)

func (k StatusKind) String() string {
	switch k {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

type Status struct {
	Kind   StatusKind
	Text   string
	Reason string
}

func Pending() Status {
	return Status{Kind: StatusPending}
}

func Completed(text string) Status {
	return Status{Kind: StatusCompleted, Text: text}
}

func Failed(reason string) Status {
	return Status{Kind: StatusFailed, Reason: reason}
}

func (s Status) IsTerminal() bool {
	return s.Kind != StatusPending
}

// ParseSessionStatus maps the backend's session.status string. Unknown
// values are treated as still pending.
func ParseSessionStatus(status, result, errDetail string) Status {
	switch status {
	case "completed", "complete", "done":
		return Completed(result)
	case "failed", "error":
		if errDetail == "" {
			errDetail = "transcription failed"
		}
		return Failed(errDetail)
	default:
		return Pending()
	}
}
