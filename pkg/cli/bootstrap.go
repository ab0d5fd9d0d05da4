package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/identity"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func newBootstrapCommand() *Command {
	return &Command{
		Name:        "bootstrap",
		Description: "Seed built-in roles and create the first tenant admin",
		Flags:       flag.NewFlagSet("bootstrap", flag.ContinueOnError),
		Run:         runBootstrap,
	}
}

type bootstrapResult struct {
	TenantID       string `json:"tenantId"`
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId"`
	Role           string `json:"role"`
}

func runBootstrap(args []string) error {
	flags := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	db := addDBFlags(flags)
	tenantName := flags.String("tenant", "default", "Tenant name")
	orgName := flags.String("org", "default", "Organization name")
	identifier := flags.String("identifier", "admin", "Admin login identifier")
	email := flags.String("email", "", "Admin email")
	password := flags.String("password", "-", "Admin password, or - to read one line from stdin")
	if err := flags.Parse(args); err != nil {
		return err
	}

	secret, err := readSecret(*password)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return err
	}

	conn, err := db.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := context.Background()
	users := identity.NewStore(conn)
	resolver := rbac.NewResolver(rbac.NewStore(conn), rbac.ResolverConfig{Users: users})
	if err := resolver.InitializeBuiltIns(ctx); err != nil {
		return err
	}

	tenant := &identity.Tenant{Name: *tenantName}
	if err := users.CreateTenant(ctx, tenant); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	org := &identity.Organization{TenantID: tenant.ID, Name: *orgName}
	if err := users.CreateOrganization(ctx, org); err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	user := &identity.User{
		OrganizationID: org.ID,
		Identifier:     *identifier,
		Email:          *email,
		HashedPassword: hash,
	}
	if err := users.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	role, err := resolver.FindGlobalRoleByName(ctx, rbac.RoleHubAdmin)
	if err != nil {
		return err
	}
	if _, err := resolver.AssignUserRole(ctx, user.ID, role.ID); err != nil {
		return err
	}

	return printJSON(bootstrapResult{
		TenantID:       tenant.ID,
		OrganizationID: org.ID,
		UserID:         user.ID,
		Role:           role.Name,
	})
}
