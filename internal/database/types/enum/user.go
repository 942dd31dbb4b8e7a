package enum

// UserStatus represents the lifecycle state of a subscriber.
type UserStatus int

const (
	// UserStatusActive marks users eligible for notifications.
	UserStatusActive UserStatus = iota
	// UserStatusBlocked marks users who blocked the bot.
	UserStatusBlocked
	// UserStatusDeactivated marks users whose messenger account was deactivated.
	UserStatusDeactivated
)

// String returns the name of the user status.
func (s UserStatus) String() string {
	switch s {
	case UserStatusActive:
		return "active"
	case UserStatusBlocked:
		return "blocked"
	case UserStatusDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// FollowMark represents a per-topic follow decision made by a user.
type FollowMark int

const (
	// FollowMarkWhitelist means notify always while the topic is active.
	FollowMarkWhitelist FollowMark = iota
	// FollowMarkBlacklist means never notify for this topic.
	FollowMarkBlacklist
)

// String returns the name of the follow mark.
func (m FollowMark) String() string {
	switch m {
	case FollowMarkWhitelist:
		return "whitelist"
	case FollowMarkBlacklist:
		return "blacklist"
	default:
		return "unknown"
	}
}
