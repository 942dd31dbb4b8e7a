package enum

// ChangeKind represents the kind of change detected on a search topic.
type ChangeKind int

const (
	// ChangeKindAll matches any change kind in subscription queries.
	ChangeKindAll ChangeKind = iota

	// ChangeKindNewTopic marks the first sighting of a topic in a folder crawl.
	ChangeKindNewTopic
	// ChangeKindStatusChange marks a change of the topic's status line.
	ChangeKindStatusChange
	// ChangeKindTitleChange marks a change of the topic's title.
	ChangeKindTitleChange
	// ChangeKindNewComments marks a growth of the topic's reply count.
	ChangeKindNewComments
	// ChangeKindNewInforgComment marks new replies authored by the inforg role.
	ChangeKindNewInforgComment
	// ChangeKindFirstPostChange marks an edit of the topic's first post.
	ChangeKindFirstPostChange
)

// String returns the wire name of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeKindAll:
		return "all"
	case ChangeKindNewTopic:
		return "new_topic"
	case ChangeKindStatusChange:
		return "status_change"
	case ChangeKindTitleChange:
		return "title_change"
	case ChangeKindNewComments:
		return "new_comments"
	case ChangeKindNewInforgComment:
		return "new_inforg_comment"
	case ChangeKindFirstPostChange:
		return "first_post_change"
	default:
		return "unknown"
	}
}

// ProcessingFlag represents the processing state of a change log record.
type ProcessingFlag int

const (
	// ProcessingFlagPending marks records awaiting notification fan-out.
	ProcessingFlagPending ProcessingFlag = iota
	// ProcessingFlagSent marks records whose notifications were enqueued.
	ProcessingFlagSent
	// ProcessingFlagSuppressed marks records excluded from notification.
	ProcessingFlagSuppressed
)

// String returns the name of the processing flag.
func (f ProcessingFlag) String() string {
	switch f {
	case ProcessingFlagPending:
		return "pending"
	case ProcessingFlagSent:
		return "sent"
	case ProcessingFlagSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}
