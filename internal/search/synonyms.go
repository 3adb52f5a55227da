package search

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JCHanratty/CASearch/internal/store"
)

// SynonymLookup expands one query term into its synonyms.
type SynonymLookup interface {
	// Expand returns the synonyms of term, excluding term itself.
	// Unknown terms return nil.
	Expand(term string) []string
}

// BuiltinSynonyms maps a canonical labour-agreement term to the words used
// for it in other agreements. Lookup works in both directions.
var BuiltinSynonyms = map[string][]string{
	// Leave
	"sick leave":        {"sick time", "sick days", "illness leave", "medical leave", "sick pay"},
	"vacation":          {"annual leave", "vacation leave", "paid time off", "pto", "holiday leave"},
	"bereavement":       {"bereavement leave", "compassionate leave", "funeral leave"},
	"maternity":         {"maternity leave", "parental leave", "pregnancy leave"},
	"paternity":         {"paternity leave", "parental leave"},
	"lieu time":         {"banked time", "time in lieu", "lieu days", "compensatory time", "comp time"},
	"statutory holiday": {"general holiday", "stat holiday", "named holiday", "public holiday"},
	"education leave":   {"professional development", "training leave", "study leave", "ed leave"},
	"leave of absence":  {"loa", "personal leave", "unpaid leave"},
	"jury duty":         {"court leave", "jury leave", "witness leave"},

	// Compensation
	"wages":              {"pay", "salary", "compensation", "earnings", "remuneration"},
	"overtime":           {"ot", "overtime pay", "overtime rate", "time and a half", "overtime compensation"},
	"step increase":      {"increment", "step progression", "wage step", "grid step", "pay step"},
	"acting pay":         {"acting allowance", "temporary assignment pay", "higher duties pay"},
	"standby":            {"on-call", "standby pay", "on call", "standby allowance"},
	"callback":           {"call-back", "call-in", "call back pay", "call-back pay"},
	"shift differential": {"shift premium", "evening premium", "night premium", "weekend premium"},
	"cola":               {"cost of living", "cost of living adjustment", "cost-of-living"},

	// Benefits
	"benefits":       {"benefit", "employee benefits", "fringe benefits"},
	"dental":         {"dental plan", "dental coverage", "dental benefits"},
	"health":         {"health plan", "health coverage", "medical", "health benefits"},
	"pension":        {"retirement", "retirement plan", "pension plan"},
	"ltd":            {"long term disability", "long-term disability", "ltdi"},
	"std":            {"short term disability", "short-term disability", "stdi", "weekly indemnity"},
	"eap":            {"employee assistance", "employee assistance program", "employee assistance plan"},
	"life insurance": {"group life", "group life insurance", "ad&d"},
	"vision":         {"vision care", "eye care", "optical", "vision benefits"},

	// Employment
	"seniority":          {"tenure", "years of service", "service time"},
	"probation":          {"probationary period", "trial period", "probationary"},
	"termination":        {"dismissal", "firing", "discharge", "separation"},
	"layoff":             {"lay off", "layoffs", "reduction in force", "rif"},
	"recall":             {"callback", "call back", "return to work"},
	"discipline":         {"disciplinary action", "progressive discipline", "corrective action"},
	"job posting":        {"posting", "vacancy", "job competition", "internal posting"},
	"job classification": {"classification", "job class", "position classification"},

	// Union and bargaining
	"grievance":            {"grievances", "complaint", "dispute", "appeal"},
	"union":                {"local", "bargaining unit", "association"},
	"collective agreement": {"collective bargaining agreement", "cba", "contract", "labor agreement"},
	"dues":                 {"union dues", "membership dues"},
	"arbitration":          {"arbitrations", "arbitrator", "arbitral"},
	"union steward":        {"steward", "shop steward", "union representative", "union rep"},

	// Scheduling
	"shift":          {"shifts", "work shift", "tour of duty"},
	"hours of work":  {"work hours", "working hours", "scheduled hours", "regular hours"},
	"flexible hours": {"flex time", "flextime", "flexible schedule", "variable hours"},

	// Safety
	"safety": {"occupational health", "ohs", "workplace safety", "health and safety"},
	"ppe":    {"personal protective equipment", "protective equipment", "safety equipment"},
	"whmis":  {"workplace hazardous materials", "hazardous materials information"},

	// Allowances
	"clothing allowance": {"uniform allowance", "boot allowance", "safety footwear"},
	"mileage":            {"vehicle allowance", "travel allowance", "km rate", "kilometre rate"},
	"meal allowance":     {"meal reimbursement", "per diem", "subsistence"},
}

// SynonymTable is a bidirectional synonym map. A canonical term expands to
// its synonyms; a synonym expands to its canonical term(s) and their other
// synonyms. It is safe for concurrent use.
type SynonymTable struct {
	mu        sync.RWMutex
	groups    map[string][]string
	reverse   map[string][]string // synonym -> canonical terms, sorted
	expansion map[string][]string
}

// Verify interface implementation at compile time
var _ SynonymLookup = (*SynonymTable)(nil)

// NewSynonymTable builds a table from canonical -> synonyms groups.
func NewSynonymTable(groups map[string][]string) *SynonymTable {
	t := &SynonymTable{}
	t.Replace(groups)
	return t
}

// NewBuiltinSynonymTable returns a table holding BuiltinSynonyms.
func NewBuiltinSynonymTable() *SynonymTable {
	return NewSynonymTable(BuiltinSynonyms)
}

// Replace swaps the table contents.
func (t *SynonymTable) Replace(groups map[string][]string) {
	clean := normalizeGroups(groups)

	reverse := make(map[string][]string)
	for canonical, syns := range clean {
		for _, syn := range syns {
			reverse[syn] = append(reverse[syn], canonical)
		}
	}
	for syn := range reverse {
		sort.Strings(reverse[syn])
	}

	t.mu.Lock()
	t.groups = clean
	t.reverse = reverse
	t.expansion = make(map[string][]string)
	t.mu.Unlock()
}

// Expand returns the synonyms of term. The term's own group comes first,
// then the groups of every canonical term it is a synonym of.
func (t *SynonymTable) Expand(term string) []string {
	term = normalizeTerm(term)
	if term == "" {
		return nil
	}

	t.mu.RLock()
	cached, ok := t.expansion[term]
	t.mu.RUnlock()
	if ok {
		return cached
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := map[string]bool{term: true}
	var out []string
	add := func(words ...string) {
		for _, w := range words {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}

	add(t.groups[term]...)
	for _, canonical := range t.reverse[term] {
		add(canonical)
		add(t.groups[canonical]...)
	}

	t.expansion[term] = out
	return out
}

// Groups returns a copy of the table contents.
func (t *SynonymTable) Groups() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]string, len(t.groups))
	for k, v := range t.groups {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Len returns the number of canonical terms.
func (t *SynonymTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.groups)
}

// MergeSynonyms returns base extended by custom. Synonyms for an existing
// canonical term are appended without duplicates; new terms are added.
// Neither input is modified.
func MergeSynonyms(base, custom map[string][]string) map[string][]string {
	merged := make(map[string][]string, len(base)+len(custom))
	for k, v := range base {
		merged[k] = append([]string(nil), v...)
	}
	for canonical, syns := range custom {
		existing := merged[canonical]
		for _, syn := range syns {
			if !contains(existing, syn) {
				existing = append(existing, syn)
			}
		}
		merged[canonical] = existing
	}
	return merged
}

// ============================================================================
// Custom synonyms
// ============================================================================

// ParseSynonyms parses custom synonyms in "csv" or "json" format.
//
// CSV rows are canonical,synonym,synonym,... Blank lines and lines starting
// with # are skipped, as are rows without at least one synonym.
// JSON is an object of canonical term to array of synonyms.
func ParseSynonyms(r io.Reader, format string) (map[string][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read synonyms: %w", err)
	}

	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "json":
		var raw map[string][]string
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid synonym JSON (want an object of term to list of synonyms): %w", err)
		}
		return normalizeGroups(raw), nil

	case "csv":
		reader := csv.NewReader(bytes.NewReader(data))
		reader.FieldsPerRecord = -1
		reader.Comment = '#'
		reader.TrimLeadingSpace = true

		out := make(map[string][]string)
		for {
			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("invalid synonym CSV: %w", err)
			}
			if len(row) < 2 {
				continue
			}
			out[row[0]] = append(out[row[0]], row[1:]...)
		}
		return normalizeGroups(out), nil

	default:
		return nil, fmt.Errorf("unsupported synonym format %q (use .csv or .json)", format)
	}
}

// LoadSynonymFile parses a .csv or .json synonym file.
func LoadSynonymFile(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open synonym file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseSynonyms(f, filepath.Ext(path))
}

// SynonymStore is the subset of the document store that persists custom
// synonyms.
type SynonymStore interface {
	ListSynonyms(ctx context.Context) ([]store.Synonym, error)
}

// LoadSynonymTable builds the table used for expansion: built-in synonyms
// merged with the custom synonyms persisted in st. A nil st yields the
// built-in table.
func LoadSynonymTable(ctx context.Context, st SynonymStore) (*SynonymTable, error) {
	if st == nil {
		return NewBuiltinSynonymTable(), nil
	}
	custom, err := st.ListSynonyms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom synonyms: %w", err)
	}
	return NewSynonymTable(MergeSynonyms(BuiltinSynonyms, SynonymsToMap(custom))), nil
}

// SynonymsToMap converts stored synonym rows to a group map.
func SynonymsToMap(rows []store.Synonym) map[string][]string {
	out := make(map[string][]string, len(rows))
	for _, r := range rows {
		out[r.Term] = append(out[r.Term], r.Synonyms...)
	}
	return out
}

// MapToSynonyms converts a group map to stored synonym rows, sorted by term.
func MapToSynonyms(groups map[string][]string) []store.Synonym {
	out := make([]store.Synonym, 0, len(groups))
	for term, syns := range groups {
		out = append(out, store.Synonym{Term: term, Synonyms: syns})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out
}

func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// normalizeGroups lowercases, trims and de-duplicates every entry and drops
// groups that end up empty.
func normalizeGroups(groups map[string][]string) map[string][]string {
	out := make(map[string][]string, len(groups))
	for canonical, syns := range groups {
		key := normalizeTerm(canonical)
		if key == "" {
			continue
		}
		list := out[key]
		for _, syn := range syns {
			syn = normalizeTerm(syn)
			if syn == "" || syn == key || contains(list, syn) {
				continue
			}
			list = append(list, syn)
		}
		if len(list) > 0 {
			out[key] = list
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
