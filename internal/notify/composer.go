package notify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/searchparty/beacon/internal/database/types"
	"github.com/searchparty/beacon/internal/database/types/enum"
)

// MessageBody is one rendered notification for one recipient.
type MessageBody struct {
	Text     string
	HasCoord bool
	Lat      float64
	Lon      float64
}

// coordShiftThresholdKM is the minimum coordinate move worth calling out in
// a first post diff.
const coordShiftThresholdKM = 0.1

var phonePattern = regexp.MustCompile(`(?:\+7|8)[\s\-]?\(?\d{3}\)?[\s\-]?\d{3}[\s\-]?\d{2}[\s\-]?\d{2}`)

var tips = []string{
	"Совет: нажмите /settings, чтобы настроить типы уведомлений.",
	"Совет: укажите домашние координаты и радиус, чтобы получать только ближайшие поиски.",
	"Совет: команда /follow включает режим отслеживания отдельных тем.",
	"Совет: подписку на возрастные диапазоны можно изменить в любой момент.",
}

// Composer renders one message per record and recipient. Rendering never
// mutates the record and is safe to re-run.
type Composer struct {
	baseURL string
}

// NewComposer creates a composer. The base URL builds topic links.
func NewComposer(baseURL string) *Composer {
	return &Composer{baseURL: strings.TrimRight(baseURL, "/")}
}

// Compose dispatches on change kind. The tip number is the recipient's
// running notification count and drives the tip footer cadence.
func (c *Composer) Compose(rec *EnrichedRecord, profile *types.Profile, tipNumber int) (MessageBody, error) {
	switch rec.Record.Kind {
	case enum.ChangeKindNewTopic:
		return c.renderNewTopic(rec, profile, tipNumber), nil
	case enum.ChangeKindStatusChange:
		return c.renderStatusChange(rec), nil
	case enum.ChangeKindTitleChange:
		return c.renderTitleChange(rec), nil
	case enum.ChangeKindNewComments:
		return c.renderNewComments(rec), nil
	case enum.ChangeKindNewInforgComment:
		return c.renderInforgComment(rec), nil
	case enum.ChangeKindFirstPostChange:
		return c.renderFirstPostChange(rec)
	default:
		return MessageBody{}, fmt.Errorf("no renderer for change kind %s", rec.Record.Kind)
	}
}

func (c *Composer) renderNewTopic(rec *EnrichedRecord, profile *types.Profile, tipNumber int) MessageBody {
	var b strings.Builder

	fmt.Fprintf(&b, "Новый поиск!\n%s\n%s\n", rec.Search.Title, c.topicURL(rec.Search.TopicID))

	if profile.User.HasHomeCoords() && rec.Search.HasExactCoords() {
		distance := HaversineKM(
			profile.User.HomeLat, profile.User.HomeLon, rec.Search.Lat, rec.Search.Lon)
		bearing := BearingDeg(
			profile.User.HomeLat, profile.User.HomeLon, rec.Search.Lat, rec.Search.Lon)
		fmt.Fprintf(&b, "Расстояние от вас: %.0f км, направление %s\n", distance, CompassPoint(bearing))
	}

	if len(rec.Activities) > 0 {
		fmt.Fprintf(&b, "Активные задачи: %s\n", strings.Join(rec.Activities, ", "))
	}

	if len(rec.Managers) > 0 {
		fmt.Fprintf(&b, "Координаторы: %s\n", strings.Join(rec.Managers, ", "))
	}

	if tip := tipFor(tipNumber); tip != "" {
		fmt.Fprintf(&b, "\n%s", tip)
	}

	body := MessageBody{Text: strings.TrimRight(b.String(), "\n")}
	if rec.Search.HasExactCoords() || rec.Search.CoordKind == enum.CoordKindFromAddress {
		body.HasCoord = true
		body.Lat = rec.Search.Lat
		body.Lon = rec.Search.Lon
	}

	return body
}

func (c *Composer) renderStatusChange(rec *EnrichedRecord) MessageBody {
	text := fmt.Sprintf("Смена статуса: %s\n%s\n%s",
		rec.Record.Payload, rec.Search.Title, c.topicURL(rec.Search.TopicID))

	return MessageBody{Text: text}
}

func (c *Composer) renderTitleChange(rec *EnrichedRecord) MessageBody {
	text := fmt.Sprintf("Изменено название темы:\n%s\n%s",
		rec.Search.Title, c.topicURL(rec.Search.TopicID))

	return MessageBody{Text: text}
}

func (c *Composer) renderNewComments(rec *EnrichedRecord) MessageBody {
	var b strings.Builder

	fmt.Fprintf(&b, "Новые сообщения в теме:\n%s\n%s\n",
		rec.Search.Title, c.topicURL(rec.Search.TopicID))

	for _, comment := range rec.Comments {
		fmt.Fprintf(&b, "\n• %s: %s", comment.Author, LinkifyPhones(comment.Text))
	}

	return MessageBody{Text: b.String()}
}

func (c *Composer) renderInforgComment(rec *EnrichedRecord) MessageBody {
	var b strings.Builder

	fmt.Fprintf(&b, "❗ Сообщение инфорга в теме:\n%s\n%s\n",
		rec.Search.Title, c.topicURL(rec.Search.TopicID))

	for _, comment := range rec.Comments {
		fmt.Fprintf(&b, "\n%s:\n%s", comment.Author, LinkifyPhones(comment.Text))
	}

	return MessageBody{Text: b.String()}
}

func (c *Composer) renderFirstPostChange(rec *EnrichedRecord) (MessageBody, error) {
	var diff types.FirstPostDiff
	if err := sonic.UnmarshalString(rec.Record.Payload, &diff); err != nil {
		return MessageBody{}, fmt.Errorf("failed to decode first post diff payload: %w", err)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Изменён первый пост темы:\n%s\n%s\n",
		rec.Search.Title, c.topicURL(rec.Search.TopicID))

	if len(diff.Additions) > 0 {
		b.WriteString("\nДобавлено:\n")

		for _, line := range diff.Additions {
			fmt.Fprintf(&b, "+ %s\n", line)
		}
	}

	if len(diff.Deletions) > 0 {
		b.WriteString("\nУдалено:\n")

		for _, line := range diff.Deletions {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	body := MessageBody{}

	if phrase, moved := coordShiftPhrase(diff); moved {
		fmt.Fprintf(&b, "\n%s\n", phrase)
		body.HasCoord = true
		body.Lat = diff.NewLat
		body.Lon = diff.NewLon
	}

	body.Text = strings.TrimRight(b.String(), "\n")

	return body, nil
}

// coordShiftPhrase describes how far and in which direction the first post's
// coordinates moved. Zero old coordinates mean they were just added.
func coordShiftPhrase(diff types.FirstPostDiff) (string, bool) {
	if diff.NewLat == 0 && diff.NewLon == 0 {
		return "", false
	}

	if diff.OldLat == 0 && diff.OldLon == 0 {
		return fmt.Sprintf("Добавлены координаты: %.5f, %.5f", diff.NewLat, diff.NewLon), true
	}

	distance := HaversineKM(diff.OldLat, diff.OldLon, diff.NewLat, diff.NewLon)
	if distance < coordShiftThresholdKM {
		return "", false
	}

	bearing := BearingDeg(diff.OldLat, diff.OldLon, diff.NewLat, diff.NewLon)
	phrase := fmt.Sprintf("Координаты смещены на %.1f км (%s): %.5f, %.5f",
		distance, CompassPoint(bearing), diff.NewLat, diff.NewLon)

	return phrase, true
}

// LinkifyPhones wraps recognizable phone numbers in tel links so messenger
// clients make them tappable.
func LinkifyPhones(text string) string {
	return phonePattern.ReplaceAllStringFunc(text, func(match string) string {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' || r == '+' {
				return r
			}

			return -1
		}, match)

		if strings.HasPrefix(digits, "8") {
			digits = "+7" + digits[1:]
		}

		return fmt.Sprintf("%s (tel:%s)", match, digits)
	})
}

// tipFor returns the tip footer for the given running notification count, or
// empty when the cadence skips it. Tips fire on the Fibonacci numbers so new
// subscribers see them often and veterans rarely.
func tipFor(tipNumber int) string {
	if tipNumber <= 0 || !isFibonacci(tipNumber) {
		return ""
	}

	return tips[tipNumber%len(tips)]
}

func isFibonacci(n int) bool {
	a, b := 1, 1
	for b < n {
		a, b = b, a+b
	}

	return b == n
}

func (c *Composer) topicURL(topicID int64) string {
	return fmt.Sprintf("%s/viewtopic.php?t=%d", c.baseURL, topicID)
}
