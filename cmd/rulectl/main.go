// cmd/rulectl — Rule administration tool.
// Seeds alert rules into the SQLite store the engine reloads from, and
// lists what an instrument currently has.
//
// Usage:
//
//	rulectl load rules.json     # upsert rule definitions from a JSON array
//	rulectl list NSE NIFTY50    # print the enabled rules for an instrument
//
// SQLITE_PATH selects the database (default: "data/alerts.db").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"alert-systemv1/internal/model"
	sqlitestore "alert-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}

	dbPath := os.Getenv("SQLITE_PATH")
	if dbPath == "" {
		dbPath = "data/alerts.db"
	}
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: dbPath})
	if err != nil {
		log.Fatalf("rulectl: open store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "load":
		if len(os.Args) != 3 {
			usage()
		}
		load(ctx, store, os.Args[2])
	case "list":
		if len(os.Args) != 4 {
			usage()
		}
		list(ctx, store, os.Args[2], os.Args[3])
	default:
		usage()
	}
}

// ruleJSON is the rules.json wire shape. Cooldown is whole seconds;
// leaving it out means the engine's default applies, while an explicit
// 0 disables the cooldown for that rule.
type ruleJSON struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Exchange    string          `json:"exchange"`
	Kind        model.RuleKind  `json:"kind"`
	TF          int             `json:"tf"`
	Levels      []float64       `json:"levels,omitempty"`
	Direction   model.Direction `json:"direction,omitempty"`
	Indicator   string          `json:"indicator,omitempty"`
	Op          string          `json:"op,omitempty"`
	Threshold   float64         `json:"threshold,omitempty"`
	Lookback    int             `json:"lookback,omitempty"`
	CooldownSec *int            `json:"cooldown_sec,omitempty"`
	Message     string          `json:"message,omitempty"`
}

func (r ruleJSON) definition() model.RuleDefinition {
	cooldown := model.CooldownUnset
	if r.CooldownSec != nil {
		cooldown = time.Duration(*r.CooldownSec) * time.Second
	}
	return model.RuleDefinition{
		ID:        r.ID,
		Symbol:    r.Symbol,
		Exchange:  r.Exchange,
		Kind:      r.Kind,
		TF:        r.TF,
		Levels:    r.Levels,
		Direction: r.Direction,
		Indicator: r.Indicator,
		Op:        r.Op,
		Threshold: r.Threshold,
		Lookback:  r.Lookback,
		Cooldown:  cooldown,
		Message:   r.Message,
	}
}

func fromDefinition(def model.RuleDefinition) ruleJSON {
	r := ruleJSON{
		ID:        def.ID,
		Symbol:    def.Symbol,
		Exchange:  def.Exchange,
		Kind:      def.Kind,
		TF:        def.TF,
		Levels:    def.Levels,
		Direction: def.Direction,
		Indicator: def.Indicator,
		Op:        def.Op,
		Threshold: def.Threshold,
		Lookback:  def.Lookback,
		Message:   def.Message,
	}
	if def.Cooldown != model.CooldownUnset {
		sec := int(def.Cooldown / time.Second)
		r.CooldownSec = &sec
	}
	return r
}

func load(ctx context.Context, store *sqlitestore.Store, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("rulectl: read %s: %v", path, err)
	}

	var rules []ruleJSON
	if err := json.Unmarshal(raw, &rules); err != nil {
		log.Fatalf("rulectl: parse %s: %v", path, err)
	}

	loaded := 0
	for _, r := range rules {
		if err := store.SaveRule(ctx, r.definition()); err != nil {
			log.Printf("rulectl: rule %s: %v", r.ID, err)
			continue
		}
		loaded++
	}
	fmt.Printf("loaded %d/%d rules from %s\n", loaded, len(rules), path)
}

func list(ctx context.Context, store *sqlitestore.Store, exchange, symbol string) {
	defs, err := store.LoadRules(ctx, exchange, symbol)
	if err != nil {
		log.Fatalf("rulectl: load rules: %v", err)
	}
	if len(defs) == 0 {
		fmt.Printf("no enabled rules for %s:%s\n", exchange, symbol)
		return
	}
	for _, def := range defs {
		out, _ := json.Marshal(fromDefinition(def))
		fmt.Println(string(out))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rulectl load <rules.json> | rulectl list <exchange> <symbol>")
	os.Exit(2)
}
