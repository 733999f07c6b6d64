package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames once per UI tick. A frozen ticker means the UI
// loop itself has stalled.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() { t.index = (t.index + 1) % len(t.frames) }

func (t Ticker) Current() string { return t.frames[t.index] }

const activityDots = 5

// Activity lights up on every event and fades one dot every two seconds.
type Activity struct {
	lastEvent time.Time
	now       func() time.Time
}

func NewActivity() Activity {
	return Activity{now: time.Now}
}

func (a *Activity) OnEvent() { a.lastEvent = a.now() }

func (a Activity) LastEvent() time.Time { return a.lastEvent }

// Lit is the number of dots still lit.
func (a Activity) Lit() int {
	if a.lastEvent.IsZero() {
		return 0
	}
	faded := int(a.now().Sub(a.lastEvent) / (2 * time.Second))
	return max(activityDots-faded, 0)
}

func (a Activity) Render(theme Theme) string {
	lit := a.Lit()
	var b strings.Builder
	for i := range activityDots {
		if i < lit {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}
