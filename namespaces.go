package offlinecache

import "sort"

// Role is the logical class of content held by a cache namespace.
type Role string

const (
	RoleAPI      Role = "api"
	RoleBookmark Role = "bookmark"
	RoleHTML     Role = "html"
	RoleJS       Role = "javascript"
	RoleStyle    Role = "stylesheet"
	RoleImage    Role = "image"
	RoleFont     Role = "font"
	RoleResource Role = "resource"
)

// namespaceNames are persisted identifiers.
// Renaming one orphans the stored namespace, which is purged on the next activation.
var namespaceNames = map[Role]string{
	RoleAPI:      "api-v1",
	RoleBookmark: "bookmarks-v1",
	RoleHTML:     "html-v1",
	RoleJS:       "javascript-v1",
	RoleStyle:    "stylesheets-v1",
	RoleImage:    "images-v1",
	RoleFont:     "fonts-v1",
	RoleResource: "resources-v1",
}

// Namespaces maps each role to the name of its storage namespace.
type Namespaces map[Role]string

// NewNamespaces returns the namespace table with every name prefixed by prefix.
func NewNamespaces(prefix string) Namespaces {
	ns := make(Namespaces, len(namespaceNames))
	for role, name := range namespaceNames {
		ns[role] = prefix + name
	}
	return ns
}

// Names returns all namespace names, sorted.
func (n Namespaces) Names() []string {
	names := make([]string, 0, len(n))
	for _, name := range n {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
