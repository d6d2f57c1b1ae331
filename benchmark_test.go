package grantkit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// skipBenchmarkIfNoDatabase skips the benchmark if database is not available
func skipBenchmarkIfNoDatabase(b *testing.B) (*Service, context.Context) {
	if !isDatabaseAvailable() {
		b.Skip("Database not available, skipping benchmark")
		return nil, nil
	}

	ctx := context.Background()
	service, err := SetupTestDatabase(ctx)
	if err != nil {
		b.Fatalf("Failed to setup test database: %v", err)
	}

	return service, ctx
}

// benchRole creates a role with a unique slug for the benchmark run.
func benchRole(b *testing.B, ctx context.Context, service *Service) *Role {
	role, err := service.CreateRole(ctx, RoleInput{
		Name: fmt.Sprintf("Bench Role %d", time.Now().UnixNano()),
	})
	if err != nil {
		b.Fatalf("Failed to create benchmark role: %v", err)
	}
	return role
}

// ============================================================================
// Grant Benchmarks
// ============================================================================

// BenchmarkAssignRole benchmarks role assignment
func BenchmarkAssignRole(b *testing.B) {
	service, ctx := skipBenchmarkIfNoDatabase(b)
	if service == nil {
		return
	}
	role := benchRole(b, ctx, service)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := NewPrincipal("user", fmt.Sprintf("bench-%d-%d", time.Now().UnixNano(), i))
		if _, err := service.AssignRole(ctx, p, RoleModel(role), nil); err != nil {
			b.Errorf("AssignRole failed: %v", err)
		}
	}
}

// BenchmarkHasRole benchmarks role resolution without a cache
func BenchmarkHasRole(b *testing.B) {
	service, ctx := skipBenchmarkIfNoDatabase(b)
	if service == nil {
		return
	}
	role := benchRole(b, ctx, service)
	p := NewPrincipal("user", fmt.Sprintf("bench-%d", time.Now().UnixNano()))
	if _, err := service.AssignRole(ctx, p, RoleModel(role), nil); err != nil {
		b.Fatalf("Failed to assign: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := service.HasRole(ctx, p, role.Slug); err != nil {
			b.Errorf("HasRole failed: %v", err)
		}
	}
}

// BenchmarkHasPermission benchmarks permission resolution through a role
func BenchmarkHasPermission(b *testing.B) {
	service, ctx := skipBenchmarkIfNoDatabase(b)
	if service == nil {
		return
	}
	role := benchRole(b, ctx, service)
	perm, err := service.CreatePermission(ctx, PermissionInput{
		Name: fmt.Sprintf("bench perm %d", time.Now().UnixNano()),
	})
	if err != nil {
		b.Fatalf("Failed to create permission: %v", err)
	}
	if _, err := service.AddPermissions(ctx, RoleModel(role), PermissionModel(perm)); err != nil {
		b.Fatalf("Failed to link: %v", err)
	}
	p := NewPrincipal("user", fmt.Sprintf("bench-%d", time.Now().UnixNano()))
	if _, err := service.AssignRole(ctx, p, RoleModel(role), nil); err != nil {
		b.Fatalf("Failed to assign: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := service.HasPermission(ctx, p, PermissionModel(perm)); err != nil {
			b.Errorf("HasPermission failed: %v", err)
		}
	}
}

// BenchmarkGetChecker benchmarks the per-request snapshot load
func BenchmarkGetChecker(b *testing.B) {
	service, ctx := skipBenchmarkIfNoDatabase(b)
	if service == nil {
		return
	}
	role := benchRole(b, ctx, service)
	p := NewPrincipal("user", fmt.Sprintf("bench-%d", time.Now().UnixNano()))
	if _, err := service.AssignRole(ctx, p, RoleModel(role), nil); err != nil {
		b.Fatalf("Failed to assign: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := service.GetChecker(ctx, p); err != nil {
			b.Errorf("GetChecker failed: %v", err)
		}
	}
}

// ============================================================================
// Concurrency Benchmarks
// ============================================================================

// BenchmarkConcurrentHasPermission benchmarks parallel resolution
func BenchmarkConcurrentHasPermission(b *testing.B) {
	service, ctx := skipBenchmarkIfNoDatabase(b)
	if service == nil {
		return
	}
	role := benchRole(b, ctx, service)
	p := NewPrincipal("user", fmt.Sprintf("bench-%d", time.Now().UnixNano()))
	if _, err := service.AssignRole(ctx, p, RoleModel(role), nil); err != nil {
		b.Fatalf("Failed to assign: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = service.HasRole(ctx, p, role.Slug)
		}
	})
}

// ============================================================================
// Checker Benchmarks (in-memory, no database needed)
// ============================================================================

// BenchmarkCheckerCan benchmarks snapshot-bound permission checks
func BenchmarkCheckerCan(b *testing.B) {
	now := time.Now()
	checker := testChecker(now)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		checker.Can("browse-users")
	}
}

// BenchmarkCheckerCanAllocs measures allocations per snapshot check
func BenchmarkCheckerCanAllocs(b *testing.B) {
	now := time.Now()
	checker := testChecker(now)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		checker.Can("browse-users")
	}
}
