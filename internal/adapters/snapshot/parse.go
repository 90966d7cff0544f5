package snapshot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/ohler55/ojg/jp"

	model "github.com/okian/mindshare/internal/domain/model"
)

// Snapshot is one parsed file: its derived timestamp and raw entries.
type Snapshot struct {
	Path      string
	Filename  string
	Timestamp string
	Entries   []map[string]any
	// Skipped counts envelope items that were not JSON objects.
	Skipped int
}

type envelope struct {
	container jp.Expr
	entries   jp.Expr
	flatten   func(map[string]any) map[string]any
}

var envelopes = map[model.Provider]envelope{
	model.ProviderCookie: {
		container: jp.MustParseString("$.result.data.json.snaps"),
		entries:   jp.MustParseString("$.result.data.json.snaps[*]"),
	},
	model.ProviderWallchain: {
		container: jp.MustParseString("$"),
		entries:   jp.MustParseString("$[*].entries[*]"),
		flatten:   flattenWallchain,
	},
	model.ProviderKaito: {
		container: jp.MustParseString("$"),
		entries:   jp.MustParseString("$[*]"),
	},
}

// Parser extracts leaderboard entries from one provider's envelope.
type Parser struct {
	provider model.Provider
	env      envelope
}

// NewParser returns a parser for provider p.
func NewParser(p model.Provider) (*Parser, error) {
	env, ok := envelopes[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	return &Parser{provider: p, env: env}, nil
}

// Provider returns the provider this parser reads.
func (p *Parser) Provider() model.Provider { return p.provider }

// Parse reads the file at path. The timestamp comes from the filename only.
// Every failure is a *ParseError.
func (p *Parser) Parse(path string) (Snapshot, error) {
	name := filepath.Base(path)
	ts, err := model.TimestampFromFilename(name)
	if err != nil {
		return Snapshot{}, &ParseError{Path: path, Reason: "bad filename", Err: err}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, &ParseError{Path: path, Reason: "read", Err: err}
	}

	var root any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return Snapshot{}, &ParseError{Path: path, Reason: "invalid json", Err: err}
	}

	container := p.env.container.Get(root)
	if len(container) != 1 {
		return Snapshot{}, &ParseError{Path: path, Reason: fmt.Sprintf("missing %s", p.env.container)}
	}
	if _, ok := container[0].([]any); !ok {
		return Snapshot{}, &ParseError{Path: path, Reason: fmt.Sprintf("%s is not a list", p.env.container)}
	}

	snap := Snapshot{Path: path, Filename: name, Timestamp: ts}
	for _, item := range p.env.entries.Get(root) {
		m, ok := item.(map[string]any)
		if !ok {
			snap.Skipped++
			continue
		}
		if p.env.flatten != nil {
			m = p.env.flatten(m)
		}
		snap.Entries = append(snap.Entries, m)
	}
	return snap, nil
}

// wallchainEntryFields are read from the entry itself, with their defaults.
var wallchainEntryFields = []struct {
	key string
	def any
}{
	{"mindsharePercentage", json.Number("0")},
	{"relativeMindshare", json.Number("0")},
	{"appUseMultiplier", json.Number("1.0")},
	{"position", json.Number("0")},
	{"positionChange", json.Number("0")},
}

// flattenWallchain lifts the xInfo profile into the entry. Profile fields
// win except for the entry-level metrics.
func flattenWallchain(entry map[string]any) map[string]any {
	out := make(map[string]any, len(entry)+8)
	for k, v := range entry {
		if k != "xInfo" {
			out[k] = v
		}
	}
	if info, ok := entry["xInfo"].(map[string]any); ok {
		for k, v := range info {
			out[k] = v
		}
	}
	for _, f := range wallchainEntryFields {
		if v, ok := entry[f.key]; ok && v != nil {
			out[f.key] = v
		} else {
			out[f.key] = f.def
		}
	}
	return out
}
