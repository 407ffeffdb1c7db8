package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlistings/facet"
	"github.com/openlistings/facet/factory"
)

// runSeed loads a small demo category tree with definitions that cover the
// interesting schema features: inheritance, options, validation rules, and
// a conditional display rule.
func runSeed(args []string) error {
	flags := flag.NewFlagSet("seed", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: facet-tools seed [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := dbOptions{}
	registerDBFlags(flags, &opts)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	return seedDatabase(opts)
}

func seedDatabase(opts dbOptions) error {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, buildConnString(opts))
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	config := facet.DefaultConfig()
	config.Database.TableNames = facet.TableNames{
		Categories:      opts.categories,
		Definitions:     opts.definitions,
		AttributeValues: opts.values,
	}
	config.Schema.CacheEnabled = false

	engine, err := factory.NewEngineWithConfig(config, pool)
	if err != nil {
		return err
	}

	vehiclesID, err := seedCategory(ctx, pool, opts, "Vehicles", nil)
	if err != nil {
		return err
	}
	carsID, err := seedCategory(ctx, pool, opts, "Cars", &vehiclesID)
	if err != nil {
		return err
	}

	definitions := []facet.AttributeDefinition{
		{
			CategoryID: vehiclesID, FieldName: "condition", FieldLabel: "Condition",
			FieldType: facet.FieldTypeSelect,
			FieldOptions: facet.FieldOptions{
				{Value: "new", Label: "New"},
				{Value: "used", Label: "Used"},
			},
			OrderIndex: 0, IsSearchable: true, IsRequired: true,
		},
		{
			CategoryID: carsID, FieldName: "make", FieldLabel: "Make",
			FieldType: facet.FieldTypeSelect,
			FieldOptions: facet.FieldOptions{
				{Value: "toyota", Label: "Toyota"},
				{Value: "ford", Label: "Ford"},
				{Value: "other", Label: "Other"},
			},
			OrderIndex: 1, IsSearchable: true, IsRequired: true,
		},
		{
			CategoryID: carsID, FieldName: "make_other", FieldLabel: "Other make",
			FieldType:       facet.FieldTypeText,
			ValidationRules: facet.ValidationRules{"minLength": 2, "maxLength": 40},
			OrderIndex:      2,
			ConditionalDisplay: &facet.ConditionalDisplay{
				DependsOn: "make", Operator: facet.OperatorEquals, Value: "other",
			},
		},
		{
			CategoryID: carsID, FieldName: "mileage", FieldLabel: "Mileage (km)",
			FieldType:       facet.FieldTypeNumber,
			ValidationRules: facet.ValidationRules{"min": 0, "max": 2000000},
			OrderIndex:      3, IsSearchable: true,
		},
		{
			CategoryID: carsID, FieldName: "features", FieldLabel: "Features",
			FieldType: facet.FieldTypeMultiSelect,
			FieldOptions: facet.FieldOptions{
				{Value: "ac", Label: "Air conditioning"},
				{Value: "sunroof", Label: "Sunroof"},
				{Value: "tow_hitch", Label: "Tow hitch"},
			},
			OrderIndex: 4, IsSearchable: true,
		},
	}

	for _, def := range definitions {
		created, err := engine.Schema.Create(ctx, &def)
		if err != nil {
			if facet.IsDuplicateFieldName(err) {
				fmt.Printf("Definition already exists: %s\n", def.FieldName)
				continue
			}
			return fmt.Errorf("seed definition %s: %w", def.FieldName, err)
		}
		fmt.Printf("Seeded definition %s (id %d)\n", created.FieldName, created.ID)
	}

	fmt.Println("Seed completed.")
	return nil
}

func seedCategory(ctx context.Context, pool *pgxpool.Pool, opts dbOptions, name string, parentID *int64) (int64, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (parent_id, name) VALUES ($1, $2) RETURNING id`,
		quoteIdentifier(opts.categories))

	var id int64
	if err := pool.QueryRow(ctx, query, parentID, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("seed category %s: %w", name, err)
	}
	fmt.Printf("Seeded category %s (id %d)\n", name, id)
	return id, nil
}
