package enum

type LoadClass string

const (
	LoadOverloaded    LoadClass = "overloaded"
	LoadOptimal       LoadClass = "optimal"
	LoadUnderutilized LoadClass = "underutilized"
)

type SuggestionKind string

const (
	SuggestMoveMailbox   SuggestionKind = "move_mailbox"
	SuggestAddMailbox    SuggestionKind = "add_mailbox"
	SuggestRemoveMailbox SuggestionKind = "remove_mailbox"
)

type SuggestionPriority string

const (
	PriorityHigh   SuggestionPriority = "high"
	PriorityMedium SuggestionPriority = "medium"
	PriorityLow    SuggestionPriority = "low"
)

func (p SuggestionPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	}
	return 2
}

type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionApplied   SuggestionStatus = "applied"
	SuggestionDismissed SuggestionStatus = "dismissed"
)
