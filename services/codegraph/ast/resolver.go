// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// fallbackSkipDirs are leading directories that never form part of a
// module name when no package boundary is found.
var fallbackSkipDirs = map[string]struct{}{
	"src": {}, "lib": {}, "source": {}, "python": {}, "pkg": {}, "packages": {},
}

// defaultExternalModules lists top-level modules that are always external:
// the standard library plus common third-party packages.
var defaultExternalModules = []string{
	// standard library
	"os", "sys", "json", "logging", "datetime", "pathlib", "typing", "collections",
	"asyncio", "subprocess", "ast", "re", "string", "urllib", "http", "email",
	"time", "uuid", "hashlib", "base64", "itertools", "functools", "operator",
	"contextlib", "copy", "pickle", "tempfile", "shutil", "glob", "fnmatch",
	"io", "codecs", "locale", "platform", "socket", "ssl", "threading", "queue",
	"multiprocessing", "concurrent", "warnings", "traceback", "inspect",
	"importlib", "pkgutil", "types", "weakref", "gc", "dataclasses", "enum",
	"abc", "numbers", "decimal", "fractions", "math", "cmath", "random", "statistics",

	// third party
	"requests", "urllib3", "httpx", "aiohttp", "flask", "django", "fastapi",
	"pydantic", "sqlalchemy", "alembic", "psycopg2", "pymongo", "redis",
	"celery", "pytest", "unittest", "mock", "faker", "factory", "hypothesis",
	"numpy", "pandas", "matplotlib", "seaborn", "scipy", "sklearn", "torch",
	"tensorflow", "keras", "opencv", "pillow", "boto3", "botocore", "azure",
	"google", "openai", "anthropic", "langchain", "transformers", "huggingface_hub",
	"click", "typer", "rich", "colorama", "tqdm", "python-dotenv", "pyyaml",
	"toml", "configargparse", "marshmallow", "attrs", "dataclasses-json",
	"jsonschema", "cerberus", "voluptuous", "schema", "jinja2", "mako",
	"cryptography", "bcrypt", "passlib", "jwt", "authlib", "oauthlib",
}

// DefaultExternalModules returns a copy of the built-in external module list.
func DefaultExternalModules() []string {
	return append([]string(nil), defaultExternalModules...)
}

// ModuleResolver computes importable module names for files of one repository.
//
// Description:
//
//	Package boundaries are detected by looking up __init__.py files in the
//	repository file system. The resolver only reads from fsys.
//
// Thread Safety: Safe for concurrent use if fsys is.
type ModuleResolver struct {
	fsys fs.FS
}

// NewModuleResolver creates a resolver rooted at the repository directory.
func NewModuleResolver(repoRoot string) *ModuleResolver {
	return &ModuleResolver{fsys: os.DirFS(repoRoot)}
}

// NewModuleResolverFS creates a resolver over an arbitrary file system,
// whose root is treated as the repository root.
func NewModuleResolverFS(fsys fs.FS) *ModuleResolver {
	return &ModuleResolver{fsys: fsys}
}

// ModuleName returns the dotted importable name of a repository file.
//
// Description:
//
//	Walks the ancestor directories of relPath from the repository root. The
//	outermost directory containing __init__.py starts the module name. If
//	there is none, leading src/lib/source/python/pkg/packages segments are
//	dropped until the first kept segment. The final fallback is the whole
//	path in dotted form. The ".py" suffix of the last segment is removed.
//
// Inputs:
//   - relPath: File path relative to the repository root, forward slashes.
//
// Outputs:
//   - string: Dotted module name, e.g. "pkg.sub.mod".
func (r *ModuleResolver) ModuleName(relPath string) string {
	clean := path.Clean(strings.ReplaceAll(relPath, `\`, "/"))
	parts := strings.Split(clean, "/")

	for i := 0; i < len(parts)-1; i++ {
		dir := path.Join(parts[:i+1]...)
		if r.isPackage(dir) {
			return dottedModule(parts[i:])
		}
	}

	var kept []string
	for _, part := range parts {
		if _, skip := fallbackSkipDirs[strings.ToLower(part)]; skip && len(kept) == 0 {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) > 0 {
		return dottedModule(kept)
	}
	return dottedModule(parts)
}

func (r *ModuleResolver) isPackage(dir string) bool {
	if r.fsys == nil {
		return false
	}
	info, err := fs.Stat(r.fsys, path.Join(dir, "__init__.py"))
	return err == nil && !info.IsDir()
}

func dottedModule(parts []string) string {
	out := append([]string(nil), parts...)
	last := len(out) - 1
	out[last] = strings.TrimSuffix(out[last], ".py")
	return strings.Join(out, ".")
}

// ResolveRelative turns a relative import into an absolute module name.
//
// Description:
//
//	level is the number of leading dots. The current package is the module
//	name minus its last segment; each extra dot climbs one package. If the
//	import climbs past the root, the unresolved name is returned as written.
//
// Example:
//
//	ResolveRelative("pkg.sub.mod", 1, "utils") // "pkg.sub.utils"
//	ResolveRelative("pkg.sub.mod", 2, "")      // "pkg"
func ResolveRelative(moduleName string, level int, module string) string {
	if level <= 0 {
		return module
	}
	pkg := strings.Split(moduleName, ".")
	pkg = pkg[:len(pkg)-1]
	climb := level - 1
	if climb > len(pkg) {
		return strings.Repeat(".", level) + module
	}
	pkg = pkg[:len(pkg)-climb]
	if module != "" {
		pkg = append(pkg, module)
	}
	if len(pkg) == 0 {
		return strings.Repeat(".", level) + module
	}
	return strings.Join(pkg, ".")
}

// ImportClassifier decides whether an import target is internal to a repository.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type ImportClassifier struct {
	external       map[string]struct{}
	projectModules []string
}

// NewImportClassifier creates a classifier.
//
// Inputs:
//   - projectModules: Top-level module names discovered in the repository.
//   - extraExternal: Additional top-level modules to treat as external.
func NewImportClassifier(projectModules []string, extraExternal ...string) *ImportClassifier {
	c := &ImportClassifier{
		external:       make(map[string]struct{}, len(defaultExternalModules)+len(extraExternal)),
		projectModules: append([]string(nil), projectModules...),
	}
	for _, m := range defaultExternalModules {
		c.external[m] = struct{}{}
	}
	for _, m := range extraExternal {
		if m = strings.TrimSpace(m); m != "" {
			c.external[m] = struct{}{}
		}
	}
	sort.Strings(c.projectModules)
	return c
}

// IsInternal reports whether importName likely belongs to the repository.
//
// Description:
//
//	Checked in order: relative imports are internal; a denylisted top-level
//	module is external; a name starting with a project module is internal;
//	otherwise the name is internal when its top-level segment does not
//	contain test/mock/fake, does not start with "_" and is longer than two
//	characters.
func (c *ImportClassifier) IsInternal(importName string) bool {
	if importName == "" {
		return false
	}
	if strings.HasPrefix(importName, ".") {
		return true
	}

	base, _, _ := strings.Cut(importName, ".")
	if _, ok := c.external[base]; ok {
		return false
	}

	for _, pm := range c.projectModules {
		if strings.HasPrefix(importName, pm) {
			return true
		}
	}

	lower := strings.ToLower(base)
	for _, marker := range []string{"test", "mock", "fake"} {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return !strings.HasPrefix(base, "_") && len(base) > 2
}
