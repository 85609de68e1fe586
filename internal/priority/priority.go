// Package priority derives a coarse urgency level from call transcripts.
package priority

import "strings"

// Level is a call's urgency. The zero value is TBD.
type Level int

const (
	TBD Level = iota
	Low
	Medium
	High
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	default:
		return "TBD"
	}
}

// Parse maps a persisted priority string back to a Level. Unknown strings are TBD.
func Parse(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return Low
	case "MEDIUM":
		return Medium
	case "HIGH":
		return High
	default:
		return TBD
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	*l = Parse(string(b))
	return nil
}

// Max returns the more urgent of a and b.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

var (
	highKeywords = []string{
		"shots", "kill", "gun", "shot", "fire", "injured", "robb", "assault",
		"murder", "homicide", "kidnap", "armed", "suspect", "explosion", "dead", "die",
	}
	mediumKeywords = []string{
		"suspicious", "traffic", "accident", "noise", "complaint", "missing person",
		"animal", "bite", "vandalism", "fight", "break-in",
	}
	lowKeywords = []string{
		"lost", "property", "inquiry", "advice", "noise", "graffiti",
	}
)

// Classify matches the transcript against the keyword sets, most urgent first.
// Matching is case-insensitive substring.
func Classify(transcript string) Level {
	text := strings.ToLower(transcript)
	switch {
	case containsAny(text, highKeywords):
		return High
	case containsAny(text, mediumKeywords):
		return Medium
	case containsAny(text, lowKeywords):
		return Low
	default:
		return TBD
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Emergency types produced by end-of-call analysis.
const (
	EmergencyMedical = "Medical Emergency"
	EmergencyFire    = "Fire Emergency"
	EmergencyTraffic = "Traffic Accident"
	EmergencyCrime   = "Crime In Progress"
	EmergencyOther   = "Other Emergency"
)

// EmergencyTypes lists the labels the analysis pass chooses from.
var EmergencyTypes = []string{
	EmergencyMedical, EmergencyFire, EmergencyTraffic, EmergencyCrime, EmergencyOther,
}

// ForEmergency maps an emergency type to the priority it implies. The second
// result is false when the type carries no priority of its own.
func ForEmergency(emergency string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(emergency)) {
	case "crime in progress", "fire emergency", "medical emergency":
		return High, true
	case "traffic accident":
		return Medium, true
	default:
		return TBD, false
	}
}
