// Package main generates the JSON schema of the rules config file.
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/Semior001/hroxy/pkg/discovery/fileprovider"
	"github.com/invopop/jsonschema"
	"github.com/jessevdk/go-flags"
)

var opts struct {
	Output string `long:"output" description:"Output file for the schema" default:"schema.json"`

	Title         string `long:"title"          description:"Title for the schema" default:"hroxy config"`
	Description   string `long:"description"    description:"Description for the schema"`
	SchemaVersion string `long:"schema-version" description:"Version for the schema"`
	ID            string `long:"id"             description:"ID for the schema"`
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	bts, err := generate()
	if err != nil {
		log.Fatalf("failed to generate schema: %v", err)
	}

	if err = os.WriteFile(opts.Output, bts, 0o644); err != nil {
		log.Fatalf("failed to write schema to file: %v", err)
	}

	log.Printf("schema written to %s", opts.Output)
}

func generate() ([]byte, error) {
	reflector := &jsonschema.Reflector{FieldNameTag: "yaml", DoNotReference: true}

	schema := reflector.Reflect(&fileprovider.Config{})
	schema.Title = opts.Title
	schema.Description = opts.Description
	schema.Version = opts.SchemaVersion
	schema.ID = jsonschema.ID(opts.ID)
	schema.Type = "object"

	return json.MarshalIndent(schema, "", "  ")
}
