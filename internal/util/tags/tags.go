// Package tags builds the resource tag sets applied to everything this tool
// creates. Tags identify the owning stack so footprints can be audited from
// the console independently of the state file.
package tags

const (
	// KeyStack tags a resource with the stack that owns it.
	KeyStack = "stacktier/stack"
	// KeyTier tags a resource with the deployment tier it belongs to.
	KeyTier = "stacktier/tier"
	// KeyManagedBy marks resources created by this tool. Reused resources
	// never receive this tag.
	KeyManagedBy = "stacktier/managed-by"

	// ManagedByValue is the value for KeyManagedBy.
	ManagedByValue = "stacktier"
)

// Builder accumulates tags for a stack's resources.
type Builder struct {
	tags map[string]string
}

// NewBuilder starts a tag set identifying the owning stack as managed.
func NewBuilder(stack string) *Builder {
	return &Builder{tags: map[string]string{
		KeyStack:     stack,
		KeyManagedBy: ManagedByValue,
	}}
}

// WithTier adds the deployment tier.
func (b *Builder) WithTier(tier string) *Builder {
	b.tags[KeyTier] = tier
	return b
}

// WithName adds the console display name.
func (b *Builder) WithName(name string) *Builder {
	b.tags["Name"] = name
	return b
}

// With adds an arbitrary tag.
func (b *Builder) With(key, value string) *Builder {
	b.tags[key] = value
	return b
}

// Build returns the accumulated tag map.
func (b *Builder) Build() map[string]string {
	out := make(map[string]string, len(b.tags))
	for k, v := range b.tags {
		out[k] = v
	}
	return out
}
