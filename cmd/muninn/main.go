// Package main provides the Muninn CLI entry point.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/knowledge"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/rules"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - Symbolic Knowledge Store with Rule-Based Inference",
		Long: `Muninn is an embeddable symbolic knowledge store written in Go,
pairing a confidence-weighted triple store with a forward-chaining
rule engine.

Features:
  • Triple facts with confidence, source, and provenance
  • Pattern queries over three inverted indices
  • Forward-chaining inference with variable unification
  • Constraint validation with severity grading
  • Time-based confidence decay for machine-asserted facts
  • Rule induction endpoint for externally mined patterns`,
	}

	rootCmd.PersistentFlags().String("data-dir", "./data", "Data directory")
	rootCmd.PersistentFlags().String("backend", "", "Storage backend: badger, fs, or memory")
	rootCmd.PersistentFlags().String("config", "", "Path to muninn.yaml")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize a new Muninn database",
		RunE:  runInit,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show knowledge store and rule engine statistics",
		RunE:  runStats,
	})

	addCmd := &cobra.Command{
		Use:   "add [subject] [predicate] [object]",
		Short: "Add a triple fact",
		Args:  cobra.ExactArgs(3),
		RunE:  runAdd,
	}
	addCmd.Flags().Float64("confidence", 0, "Confidence (0 uses the 0.8 default)")
	addCmd.Flags().String("source", "", "Source tag: system, user, llm, inferred")
	addCmd.Flags().Bool("literal", false, "Treat the object as a literal string, not an entity reference")
	rootCmd.AddCommand(addCmd)

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query triples by pattern",
		RunE:  runQuery,
	}
	queryCmd.Flags().String("subject", "", "Subject entity ID")
	queryCmd.Flags().String("predicate", "", "Predicate")
	queryCmd.Flags().String("object", "", "Object entity ID")
	queryCmd.Flags().Float64("min-confidence", 0, "Minimum confidence")
	rootCmd.AddCommand(queryCmd)

	entitiesCmd := &cobra.Command{
		Use:   "entities",
		Short: "Query entities by pattern",
		RunE:  runEntities,
	}
	entitiesCmd.Flags().String("type", "", "Type tag")
	entitiesCmd.Flags().String("has-property", "", "Property key that must be present")
	entitiesCmd.Flags().String("label", "", "Label substring")
	rootCmd.AddCommand(entitiesCmd)

	inferCmd := &cobra.Command{
		Use:   "infer",
		Short: "Run forward-chaining inference",
		RunE:  runInfer,
	}
	inferCmd.Flags().Int("max-iterations", 0, "Iteration cap (0 uses the configured default)")
	rootCmd.AddCommand(inferCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate facts against all enabled constraints",
		RunE:  runValidate,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "decay",
		Short: "Run one confidence decay pass over llm-sourced facts",
		RunE:  runDecay,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove unreferenced non-system entities",
		RunE:  runPrune,
	})

	ruleCmd := &cobra.Command{
		Use:   "rule",
		Short: "Rule management",
	}
	ruleAddCmd := &cobra.Command{
		Use:   "add [file]",
		Short: "Add a rule from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRuleAdd,
	}
	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List enabled rules by priority",
		RunE:  runRuleList,
	})
	ruleCmd.AddCommand(&cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a rule (builtins refuse removal)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRuleRemove,
	})
	rootCmd.AddCommand(ruleCmd)

	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export the knowledge graph as JSON (stdout when no file given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExport,
	}
	rootCmd.AddCommand(exportCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Replace the knowledge graph from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB(cmd *cobra.Command) (*muninn.DB, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	backend, _ := cmd.Flags().GetString("backend")
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.LoadFromEnv()
	}
	if backend != "" {
		cfg.StorageBackend = backend
	}

	return muninn.Open(dataDir, cfg)
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("📂 Initializing Muninn database in %s\n", dataDir)

	if err := os.MkdirAll(filepath.Join(dataDir, "knowledge"), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "muninn.yaml")
	configContent := `# Muninn Configuration
data_dir: ./data
storage_backend: badger

# Confidence decay (llm-sourced facts)
decay_rate: 0.999
decay_remove_threshold: 0.3

# Inference
infer_max_iterations: 10

log_level: INFO
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("✅ Database initialized successfully")
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Add a fact:       muninn add Socrates isA Human --data-dir", dataDir)
	fmt.Println("  2. Run inference:    muninn infer --data-dir", dataDir)

	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	kstats, rstats := db.Stats()
	fmt.Println("📊 Knowledge Store:")
	fmt.Printf("   Entities:       %d\n", kstats.Entities)
	fmt.Printf("   Triples:        %d\n", kstats.Triples)
	fmt.Printf("   Avg confidence: %.3f\n", kstats.AvgConfidence)
	for source, count := range kstats.BySource {
		fmt.Printf("   %-10s %d\n", source+":", count)
	}
	fmt.Println("📐 Rule Engine:")
	fmt.Printf("   Rules:        %d\n", rstats.Rules)
	fmt.Printf("   Constraints:  %d\n", rstats.Constraints)
	fmt.Printf("   Induced:      %d\n", rstats.InducedRules)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	source, _ := cmd.Flags().GetString("source")
	literal, _ := cmd.Flags().GetBool("literal")

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	var object knowledge.Object
	if literal {
		object = knowledge.Literal{Val: args[2]}
	} else {
		object = knowledge.EntityRef(args[2])
	}

	id := db.AddTriple(knowledge.EntityID(args[0]), args[1], object, &knowledge.TripleMeta{
		Confidence: confidence,
		Source:     knowledge.Source(source),
	})
	fmt.Printf("✅ Added %s\n", id)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	subject, _ := cmd.Flags().GetString("subject")
	predicate, _ := cmd.Flags().GetString("predicate")
	object, _ := cmd.Flags().GetString("object")
	minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	pattern := knowledge.TriplePattern{
		Subject:       knowledge.EntityID(subject),
		Predicate:     predicate,
		MinConfidence: minConfidence,
	}
	if object != "" {
		pattern.Object = knowledge.EntityRef(object)
	}

	triples := db.Query(pattern)
	for _, t := range triples {
		fmt.Printf("%s  %s %s %v  (%.3f, %s)\n",
			t.ID, t.Subject, t.Predicate, t.Object.Value(), t.Confidence, t.Source)
	}
	fmt.Printf("%d triple(s)\n", len(triples))
	return nil
}

func runEntities(cmd *cobra.Command, args []string) error {
	typeTag, _ := cmd.Flags().GetString("type")
	hasProperty, _ := cmd.Flags().GetString("has-property")
	label, _ := cmd.Flags().GetString("label")

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	entities := db.QueryEntities(knowledge.EntityPattern{
		Type:          typeTag,
		HasProperty:   hasProperty,
		LabelContains: label,
	})
	for _, e := range entities {
		fmt.Printf("%s  %v  (%.3f, %s)\n", e.ID, e.Types, e.Confidence, e.Source)
	}
	fmt.Printf("%d entity(ies)\n", len(entities))
	return nil
}

func runInfer(cmd *cobra.Command, args []string) error {
	maxIterations, _ := cmd.Flags().GetInt("max-iterations")

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("🔄 Running inference...")
	facts := db.Infer(maxIterations)

	derived := 0
	for _, f := range facts {
		if f.Source == "inferred" {
			derived++
			fmt.Printf("   + %s%v  (%.3f, %s)\n", f.Predicate, f.Args, f.Confidence, f.RuleID)
		}
	}
	fmt.Printf("✅ %d fact(s) total, %d derived\n", len(facts), derived)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	result := db.Validate()
	for _, v := range result.Violations {
		marker := "⚠️ "
		if v.Severity == rules.SeverityError {
			marker = "❌"
		}
		fmt.Printf("%s [%s] %s (%d example binding(s))\n",
			marker, v.ConstraintID, v.Message, len(v.Bindings))
	}
	for _, s := range result.Suggestions {
		fmt.Printf("   💡 %s\n", s)
	}
	if result.Valid {
		fmt.Println("✅ Knowledge base is valid")
		return nil
	}
	fmt.Println("❌ Knowledge base has error-severity violations")
	return nil
}

func runDecay(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("🔄 Decaying llm-sourced confidence...")
	result := db.DecayConfidence()
	fmt.Printf("✅ %d updated, %d removed\n", result.Updated, result.Removed)
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	removed := db.Prune()
	fmt.Printf("✅ Pruned %d orphaned entity(ies)\n", removed)
	return nil
}

func runRuleAdd(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading rule file: %w", err)
	}
	var rule rules.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return fmt.Errorf("parsing rule file: %w", err)
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	id := db.AddRule(&rule)
	fmt.Printf("✅ Added rule %s\n", id)
	return nil
}

func runRuleList(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, r := range db.Rules().Rules() {
		fmt.Printf("%-40s p=%-4d c=%.2f %-8s %s\n",
			r.ID, r.Priority, r.Confidence, r.Source, r.Name)
	}
	return nil
}

func runRuleRemove(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if !db.Rules().RemoveRule(rules.RuleID(args[0])) {
		fmt.Printf("❌ Rule %s not removed (absent or builtin)\n", args[0])
		return nil
	}
	fmt.Printf("✅ Removed rule %s\n", args[0])
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := json.MarshalIndent(db.Knowledge().Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	if len(args) == 0 {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(args[0], data, 0644); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	fmt.Printf("✅ Exported to %s\n", args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading import file: %w", err)
	}
	var snap knowledge.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing import file: %w", err)
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	db.Knowledge().Import(&snap)
	kstats, _ := db.Stats()
	fmt.Printf("✅ Imported %d entity(ies), %d triple(s)\n", kstats.Entities, kstats.Triples)
	return nil
}
