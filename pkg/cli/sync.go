package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/endpoints"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func newSyncCommand() *Command {
	return &Command{
		Name:        "sync",
		Description: "Register a service's endpoints from a YAML manifest",
		Flags:       flag.NewFlagSet("sync", flag.ContinueOnError),
		Run:         runSync,
	}
}

func runSync(args []string) error {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	db := addDBFlags(flags)
	file := flags.String("f", "", "Endpoint manifest file")
	service := flags.String("service", "", "Service name (overrides the manifest)")
	policyKind := flags.String("default-role-policy", envOr("GATEKEEPER_DEFAULT_ROLE_POLICY", "none"), "Default role policy: none, suffix or static")
	suffix := flags.String("default-role-suffix", envOr("GATEKEEPER_DEFAULT_ROLE_SUFFIX", "_default"), "Role name suffix for the suffix policy")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *file == "" {
		return fmt.Errorf("-f is required")
	}
	manifest, err := endpoints.LoadManifestFile(*file)
	if err != nil {
		return err
	}
	serviceName := manifest.Service
	if *service != "" {
		serviceName = *service
	}

	policy, err := endpoints.PolicyFromConfig(*policyKind, *suffix, nil)
	if err != nil {
		return err
	}

	conn, err := db.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	resolver := rbac.NewResolver(rbac.NewStore(conn), rbac.ResolverConfig{})
	registry := endpoints.NewRegistry(endpoints.NewStore(conn), resolver, policy)

	result, err := registry.SyncEndpoints(context.Background(), serviceName, manifest.Endpoints)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func newSnapshotCommand() *Command {
	return &Command{
		Name:        "snapshot",
		Description: "Print the gateway snapshot",
		Flags:       flag.NewFlagSet("snapshot", flag.ContinueOnError),
		Run:         runSnapshot,
	}
}

func runSnapshot(args []string) error {
	flags := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	db := addDBFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	conn, err := db.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	resolver := rbac.NewResolver(rbac.NewStore(conn), rbac.ResolverConfig{})
	snap, err := endpoints.NewRegistry(endpoints.NewStore(conn), resolver, nil).BuildSpecSnapshot(context.Background())
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
