package settings

// Topic is the kind of data a receiver accepts.
type Topic string

const (
	TopicCovid19    Topic = "covid-19"
	TopicMonkeypox  Topic = "monkeypox"
	TopicTest       Topic = "test"
	TopicFullELR    Topic = "full-elr"
	TopicEtorTI     Topic = "etor-ti"
	TopicELRElims   Topic = "elr-elims"
	TopicMarsOTCELR Topic = "mars-otc-elr"
)

// ValidTopics defines allowed topics.
var ValidTopics = map[Topic]bool{
	TopicCovid19:    true,
	TopicMonkeypox:  true,
	TopicTest:       true,
	TopicFullELR:    true,
	TopicEtorTI:     true,
	TopicELRElims:   true,
	TopicMarsOTCELR: true,
}

// IsUniversalPipeline reports whether reports for the topic flow through the
// universal pipeline rather than the legacy one.
func (t Topic) IsUniversalPipeline() bool {
	switch t {
	case TopicFullELR, TopicEtorTI, TopicELRElims, TopicMarsOTCELR:
		return true
	default:
		return false
	}
}
