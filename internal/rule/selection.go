package rule

import "strings"

// Selection enables or disables rules by id or topic. Deny lists win over allow
// lists; an empty allow list admits everything.
type Selection struct {
	Enabled        []string
	Disabled       []string
	Topics         []string
	DisabledTopics []string
}

type selectionSet struct {
	enabled        map[string]struct{}
	disabled       map[string]struct{}
	topics         map[string]struct{}
	disabledTopics map[string]struct{}
}

func buildSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		key := normalizeKey(v)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func normalizeKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func (s Selection) compile() *selectionSet {
	return &selectionSet{
		enabled:        buildSet(s.Enabled),
		disabled:       buildSet(s.Disabled),
		topics:         buildSet(s.Topics),
		disabledTopics: buildSet(s.DisabledTopics),
	}
}

func (s *selectionSet) admits(r Rule) bool {
	id := normalizeKey(r.ID())
	topic := normalizeKey(r.Topic())
	if _, ok := s.disabled[id]; ok {
		return false
	}
	if _, ok := s.disabledTopics[topic]; ok {
		return false
	}
	if s.enabled == nil && s.topics == nil {
		return true
	}
	if _, ok := s.enabled[id]; ok {
		return true
	}
	if _, ok := s.topics[topic]; ok {
		return true
	}
	return false
}

func (s Selection) Empty() bool {
	return len(s.Enabled)+len(s.Disabled)+len(s.Topics)+len(s.DisabledTopics) == 0
}

// Select returns the catalog restricted to sel. Rules whose dependencies were
// deselected stay in the catalog and see those dependencies as absent.
func (c *Catalog) Select(sel Selection) (*Catalog, error) {
	if sel.Empty() {
		return c, nil
	}
	set := sel.compile()
	kept := make([]Rule, 0, len(c.rules))
	excluded := make(map[string]struct{})
	for id := range c.excluded {
		excluded[id] = struct{}{}
	}
	for _, r := range c.rules {
		if set.admits(r) {
			kept = append(kept, r)
		} else {
			excluded[r.ID()] = struct{}{}
		}
	}
	return build(kept, excluded)
}
