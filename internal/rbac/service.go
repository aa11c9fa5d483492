package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// Store is the persistence port of the Service.
type Store interface {
	UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	UsersWithPermission(ctx context.Context, perm string) ([]int64, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
}

// Service resolves permissions and maps them to workflow capabilities.
type Service struct {
	store    Store
	registry *workflow.Registry
}

// NewService constructs a Service.
func NewService(store Store, registry *workflow.Registry) *Service {
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	return &Service{store: store, registry: registry}
}

// EffectivePermissions returns deduplicated, lower-cased permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.store.UserEffectivePermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: effective permissions: %w", err)
	}
	return normalizePermissions(rows), nil
}

// UsersWithPermission lists users granted perm.
func (s *Service) UsersWithPermission(ctx context.Context, perm string) ([]int64, error) {
	ids, err := s.store.UsersWithPermission(ctx, perm)
	if err != nil {
		return nil, fmt.Errorf("rbac: users with %s: %w", perm, err)
	}
	return ids, nil
}

// UsersWithCapability lists users holding capability c on docType.
func (s *Service) UsersWithCapability(ctx context.Context, docType workflow.DocType, c workflow.Capability) ([]int64, error) {
	d, err := s.registry.Descriptor(docType)
	if err != nil {
		return nil, err
	}
	perm, ok := d.Permission(c)
	if !ok {
		return nil, nil
	}
	return s.UsersWithPermission(ctx, perm)
}

// Capabilities implements workflow.CapabilityResolver.
func (s *Service) Capabilities(ctx context.Context, actorID int64, docType workflow.DocType) (workflow.CapabilitySet, error) {
	d, err := s.registry.Descriptor(docType)
	if err != nil {
		return nil, err
	}
	perms, err := s.EffectivePermissions(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return CapabilitiesFromPermissions(d, perms), nil
}

// CapabilitiesFromPermissions maps granted permission names onto d's capabilities.
func CapabilitiesFromPermissions(d workflow.Descriptor, granted []string) workflow.CapabilitySet {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	caps := workflow.NewCapabilitySet()
	for c, perm := range d.Permissions {
		if _, ok := set[strings.ToLower(perm)]; ok {
			caps[c] = struct{}{}
		}
	}
	return caps
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// SyncCatalog upserts every permission the service declares.
func (s *Service) SyncCatalog(ctx context.Context) (int, error) {
	descriptions := map[string]string{
		shared.PermPermissionsView:    "View the permission catalog",
		shared.PermNotificationsAdmin: "Purge notifications of any user",
	}
	for k, v := range shared.PermissionDescriptions {
		descriptions[k] = v
	}
	n := 0
	for _, name := range shared.CatalogScopes() {
		if _, err := s.store.UpsertPermission(ctx, name, descriptions[name]); err != nil {
			return n, fmt.Errorf("rbac: sync %s: %w", name, err)
		}
		n++
	}
	return n, nil
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := unique[p]; dup {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
