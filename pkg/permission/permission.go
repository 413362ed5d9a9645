package permission

import "sort"

// Permission names a single capability on the build platform.
type Permission string

const (
	JobRead      Permission = "job.read"
	JobBuild     Permission = "job.build"
	JobCreate    Permission = "job.create"
	JobDelete    Permission = "job.delete"
	JobConfigure Permission = "job.configure"
	BuildDelete  Permission = "build.delete"
	BuildUpdate  Permission = "build.update"
	SystemRead   Permission = "system.read"
	SystemAdmin  Permission = "system.admin"
)

// actionPermissions maps tool actions to the permission they require when
// the tool backend does not declare one itself.
var actionPermissions = map[string]Permission{
	"list_jobs":        JobRead,
	"get_job_info":     JobRead,
	"get_build_status": JobRead,
	"get_console_log":  JobRead,
	"get_queue_info":   JobRead,
	"server_info":      SystemRead,
	"trigger_build":    JobBuild,
	"cancel_build":     JobBuild,
	"create_job":       JobCreate,
	"delete_job":       JobDelete,
	"update_build":     BuildUpdate,
	"delete_build":     BuildDelete,
}

// ForAction returns the permission required for a named action. Unknown
// actions map to SystemAdmin so that nothing unrecognized slips through
// with a weaker requirement.
func ForAction(action string) Permission {
	if p, ok := actionPermissions[action]; ok {
		return p
	}
	return SystemAdmin
}

// blockedOperations are never executed through this layer, whatever the
// caller's snapshot says.
var blockedOperations = map[string]struct{}{
	"user_creation":           {},
	"permission_modification": {},
	"plugin_installation":     {},
	"system_configuration":    {},
	"credential_management":   {},
}

// OperationBlocked reports whether an operation is categorically blocked.
func OperationBlocked(name string) bool {
	_, ok := blockedOperations[name]
	return ok
}

// sensitivePermissions gate destructive or administrative operations;
// sessions must be fresh to exercise them.
var sensitivePermissions = map[Permission]struct{}{
	SystemAdmin: {},
	JobCreate:   {},
	JobDelete:   {},
	BuildDelete: {},
}

// Sensitive reports whether exercising p requires a fresh session.
func (p Permission) Sensitive() bool {
	_, ok := sensitivePermissions[p]
	return ok
}

// Set is an immutable-by-convention capability snapshot. Stores hand out
// copies; nothing mutates a snapshot after session creation.
type Set map[Permission]struct{}

// NewSet builds a set from the given permissions.
func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// FromStrings builds a set from raw permission names.
func FromStrings(names []string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		s[Permission(n)] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for p := range s {
		c[p] = struct{}{}
	}
	return c
}

// List returns the set's permissions in sorted order.
func (s Set) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the set's permissions as sorted strings.
func (s Set) Strings() []string {
	perms := s.List()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
