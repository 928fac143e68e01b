// File: pkg/reference/parser.go
package reference

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// metaConfigKey marks a leading payload that carries run metadata (the
// expected container id) instead of a reference event.
const metaConfigKey = "_meta_config_"

// commonRequired are the GA-convention keys promoted to required whenever the
// payload declares them.
var commonRequired = []string{"event_category", "event_action", "event_label"}

var (
	requiredOverrideRe = regexp.MustCompile(`(?mi)^required(?:\s+fields)?\s*[:\-]\s*(.+)$`)
	dynamicOverrideRe  = regexp.MustCompile(`(?mi)^dynamic(?:\s+fields)?\s*[:\-]\s*(.+)$`)
)

// Spec is the normalized output of the loader: the read-only reference set
// plus document-level metadata.
type Spec struct {
	Entries       []schemas.ReferenceEntry
	ExpectedGTMID string
	// Warnings records sections the permissive parser had to skip.
	Warnings []string
}

// Loader parses the semi-structured reference document using the three
// configurable pattern families: section titles, embedded payload blocks,
// and activation-condition lines.
type Loader struct {
	logger     *zap.Logger
	section    *regexp.Regexp
	payload    *regexp.Regexp
	activation *regexp.Regexp
	baseline   []string
}

// NewLoader compiles the extraction patterns. Pattern errors are fatal: a
// loader that cannot recognize sections cannot be permissive about them.
func NewLoader(logger *zap.Logger, pcfg config.ParserConfig, vcfg config.ValidationConfig) (*Loader, error) {
	section, err := regexp.Compile(pcfg.SectionPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid parser.section_pattern: %w", err)
	}
	payload, err := regexp.Compile(pcfg.PayloadPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid parser.payload_pattern: %w", err)
	}
	activation, err := regexp.Compile(pcfg.ActivationPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid parser.activation_pattern: %w", err)
	}
	return &Loader{
		logger:     logger.Named("reference"),
		section:    section,
		payload:    payload,
		activation: activation,
		baseline:   append([]string(nil), vcfg.RequiredGlobals...),
	}, nil
}

// LoadFile reads and parses the reference document at path.
func (l *Loader) LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference document %s: %w", path, err)
	}
	return l.Parse(string(data))
}

// Parse splits the document into sections and extracts one ReferenceEntry
// per section that yields a parseable payload. A malformed section is
// skipped with a warning; a document yielding no entries at all is fatal.
func (l *Loader) Parse(doc string) (*Spec, error) {
	spec := &Spec{}

	titles, bodies := l.split(doc)
	for i, body := range bodies {
		title := strings.TrimSpace(titles[i])

		payload, ok := l.extractPayload(body)
		if !ok {
			warn := fmt.Sprintf("reference section %d (%q) has no parseable event payload; skipped", i, title)
			spec.Warnings = append(spec.Warnings, warn)
			l.logger.Warn("Skipping reference section", zap.Int("section", i), zap.String("title", title))
			continue
		}

		// A leading meta payload configures the run instead of describing an event.
		if meta, isMeta := payload[metaConfigKey]; isMeta {
			if m, ok := meta.(map[string]any); ok {
				if id, ok := m["expected_gtm_id"].(string); ok && id != "" {
					spec.ExpectedGTMID = id
					l.logger.Info("Expected container id declared by reference document", zap.String("gtm_id", id))
				}
			}
			continue
		}

		entry := l.buildEntry(len(spec.Entries), title, body, payload)
		spec.Entries = append(spec.Entries, entry)
	}

	if len(spec.Entries) == 0 {
		return nil, fmt.Errorf("reference document yielded no usable entries (%d sections skipped)", len(spec.Warnings))
	}

	l.logger.Info("Reference document loaded",
		zap.Int("entries", len(spec.Entries)),
		zap.Int("skipped", len(spec.Warnings)))
	return spec, nil
}

// split locates section boundaries with the title pattern. Content before
// the first title becomes an untitled leading section so a bare meta payload
// still parses.
func (l *Loader) split(doc string) (titles []string, bodies []string) {
	locs := l.section.FindAllStringSubmatchIndex(doc, -1)
	if len(locs) == 0 {
		return []string{""}, []string{doc}
	}

	if lead := doc[:locs[0][0]]; strings.TrimSpace(lead) != "" {
		titles = append(titles, "")
		bodies = append(bodies, lead)
	}

	for i, loc := range locs {
		title := ""
		if len(loc) >= 4 && loc[2] >= 0 {
			title = doc[loc[2]:loc[3]]
		}
		end := len(doc)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		titles = append(titles, title)
		bodies = append(bodies, doc[loc[1]:end])
	}
	return titles, bodies
}

// extractPayload pulls the first structured literal block out of a section
// body and decodes it.
func (l *Loader) extractPayload(body string) (map[string]any, bool) {
	m := l.payload.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}
	literal := m[len(m)-1]

	var payload map[string]any
	if err := json.UnmarshalFromString(literal, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (l *Loader) buildEntry(order int, title, body string, payload map[string]any) schemas.ReferenceEntry {
	if title == "" {
		title = deriveTitle(payload)
	}

	dynamic := identifyDynamicFields(payload)
	required := l.identifyRequiredFields(payload)

	// Explicit declarations in the section override the defaults.
	if m := requiredOverrideRe.FindStringSubmatch(body); m != nil {
		required = splitFieldList(m[1])
	}
	if m := dynamicOverrideRe.FindStringSubmatch(body); m != nil {
		dynamic = map[string]string{}
		for _, f := range splitFieldList(m[1]) {
			dynamic[f] = "declared"
		}
	}

	condition := ""
	if m := l.activation.FindStringSubmatch(body); m != nil {
		condition = strings.TrimSpace(m[len(m)-1])
	}
	if condition == "" {
		condition = defaultCondition(payload)
	}

	return schemas.ReferenceEntry{
		ID:             fmt.Sprintf("datalayer_%d", order),
		Title:          title,
		Properties:     payload,
		RequiredFields: required,
		DynamicFields:  dynamic,
		Activation: schemas.Activation{
			Condition: condition,
			Type:      activationType(payload),
		},
		Order: order,
	}
}

// deriveTitle picks the most descriptive payload value, in priority order.
func deriveTitle(payload map[string]any) string {
	for _, key := range []string{"event_name", "event_category", "component_name"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return "Unknown_Reference_Title"
}

// identifyDynamicFields flags properties whose values vary per run: nulls and
// "{...}"/"{{...}}" placeholders.
func identifyDynamicFields(payload map[string]any) map[string]string {
	dynamic := map[string]string{}
	for key, value := range payload {
		if value == nil {
			dynamic[key] = "null"
			continue
		}
		if s, ok := value.(string); ok && isPlaceholder(s) {
			dynamic[key] = s
		}
	}
	return dynamic
}

// isPlaceholder recognizes template markers in expected values.
func isPlaceholder(s string) bool {
	return strings.Contains(s, "{") && strings.Contains(s, "}")
}

func (l *Loader) identifyRequiredFields(payload map[string]any) []string {
	required := append([]string(nil), l.baseline...)
	seen := make(map[string]bool, len(required))
	for _, f := range required {
		seen[f] = true
	}
	for _, f := range commonRequired {
		if _, ok := payload[f]; ok && !seen[f] {
			required = append(required, f)
			seen[f] = true
		}
	}
	return required
}

func splitFieldList(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func defaultCondition(payload map[string]any) string {
	label, _ := payload["event_label"].(string)
	category, _ := payload["event_category"].(string)
	action, _ := payload["event_action"].(string)

	switch action {
	case "Interaction", "Click", "Submit":
		return fmt.Sprintf("When the user interacts with %s in the %s section", label, category)
	case "View", "Content", "Load":
		return fmt.Sprintf("When the user views %s in the %s section", label, category)
	default:
		return fmt.Sprintf("When %s fires in %s", label, category)
	}
}

func activationType(payload map[string]any) schemas.ActivationType {
	action, _ := payload["event_action"].(string)
	interaction := fmt.Sprintf("%v", payload["interaction"])

	switch strings.ToLower(action) {
	case "click", "interaction":
		return schemas.ActivationClick
	case "view", "impression", "content":
		return schemas.ActivationView
	case "load", "pageview":
		return schemas.ActivationLoad
	case "scroll":
		return schemas.ActivationScroll
	case "hover", "mouse":
		return schemas.ActivationHover
	case "submit", "form_submit":
		return schemas.ActivationSubmit
	}
	if strings.EqualFold(interaction, "yes") {
		return schemas.ActivationClick
	}
	return schemas.ActivationCustom
}
