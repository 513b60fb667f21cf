// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

func TestRepoName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"https://github.com/pydantic/pydantic-ai.git", "pydantic-ai"},
		{"https://github.com/pydantic/pydantic-ai", "pydantic-ai"},
		{"https://github.com/pydantic/pydantic-ai/", "pydantic-ai"},
		{"git@github.com:org/repo.git", "repo"},
		{"git@host:repo.git", "repo"},
		{"/srv/checkouts/project", "project"},
		{`C:\src\tool`, "tool"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, RepoName(tt.source))
		})
	}
}

// fakeGit answers git invocations from a table keyed by the joined args.
type fakeGit struct {
	responses map[string]string
	failures  map[string]error
	calls     [][]string
}

func (f *fakeGit) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args, " ")
	for prefix, err := range f.failures {
		if strings.HasPrefix(key, prefix) {
			return nil, err
		}
	}
	for prefix, out := range f.responses {
		if strings.HasPrefix(key, prefix) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func TestGitClient_MetadataParsing(t *testing.T) {
	sep := fieldSep
	fake := &fakeGit{responses: map[string]string{
		"rev-parse --is-inside-work-tree": "true\n",
		"config --get remote.origin.url":  "https://example.com/acme/widgets.git\n",
		"rev-parse --abbrev-ref HEAD":     "develop\n",
		"ls-files":                        "a.py\nb.py\nREADME.md\n",
		"shortlog -sne HEAD":              "  12\tAda <ada@example.com>\n   3\tBob <bob@example.com>\n",
		"for-each-ref --sort=-committerdate": strings.Join([]string{
			"develop" + sep + "2025-01-02 10:00:00 +0000" + sep + "Add widgets",
			"main" + sep + "2025-01-01 09:00:00 +0000" + sep + "Initial",
			"origin/main" + sep + "2025-01-01 09:00:00 +0000" + sep + "Initial",
			"origin/HEAD" + sep + "" + sep + "",
			"origin/feature/x" + sep + "2024-12-31 08:00:00 +0000" + sep + "WIP: x",
		}, "\n") + "\n",
		"for-each-ref --sort=-creatordate": "v1.0.0" + sep + "2025-01-01 09:00:00 +0000\n",
		"log -n 2": "abc123" + sep + "Ada" + sep + "ada@example.com" + sep + "2025-01-02T10:00:00+00:00" + sep + "Add widgets\n" +
			"def456" + sep + "Bob" + sep + "bob@example.com" + sep + "2025-01-01T09:00:00+00:00" + sep + "Initial\n",
	}}

	g := NewGitClient(WithCommandRunner(fake.run), WithGitLogger(quietLogger()), WithCommitLimit(2))
	meta, err := g.Metadata(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.NotNil(t, meta.Info)
	assert.Equal(t, "https://example.com/acme/widgets.git", meta.Info.RemoteURL)
	assert.Equal(t, "develop", meta.Info.CurrentBranch)
	assert.Equal(t, 3, meta.Info.FileCount)
	assert.Equal(t, 2, meta.Info.ContributorCount)
	assert.NotEmpty(t, meta.Info.Size)

	names := make([]string, len(meta.Branches))
	for i, b := range meta.Branches {
		names[i] = b.Name
	}
	assert.Equal(t, []string{"develop", "main", "feature/x"}, names)
	assert.Equal(t, "WIP: x", meta.Branches[2].LastCommitMessage)

	require.Len(t, meta.Tags, 1)
	assert.Equal(t, graph.TagInfo{Name: "v1.0.0", Date: "2025-01-01 09:00:00 +0000"}, meta.Tags[0])

	require.Len(t, meta.RecentCommits, 2)
	assert.Equal(t, graph.CommitInfo{
		Hash:        "abc123",
		AuthorName:  "Ada",
		AuthorEmail: "ada@example.com",
		Date:        "2025-01-02T10:00:00+00:00",
		Message:     "Add widgets",
	}, meta.RecentCommits[0])
}

func TestGitClient_InfoDefaults(t *testing.T) {
	fake := &fakeGit{
		responses: map[string]string{
			"rev-parse --is-inside-work-tree": "true",
			"rev-parse --abbrev-ref HEAD":     "HEAD",
		},
		failures: map[string]error{
			"config --get": errors.New("no remote"),
			"log":          errors.New("does not have any commits yet"),
		},
	}
	g := NewGitClient(WithCommandRunner(fake.run), WithGitLogger(quietLogger()))
	meta, err := g.Metadata(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, meta.Info.RemoteURL)
	assert.Equal(t, graph.DefaultCurrentBranch, meta.Info.CurrentBranch)
	assert.NotNil(t, meta.RecentCommits)
	assert.Empty(t, meta.RecentCommits)
	assert.Empty(t, meta.Branches)
}

func TestGitClient_NotAWorkTree(t *testing.T) {
	fake := &fakeGit{failures: map[string]error{"rev-parse --is-inside-work-tree": errors.New("not a git repository")}}
	g := NewGitClient(WithCommandRunner(fake.run), WithGitLogger(quietLogger()))
	_, err := g.Metadata(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "not a git work tree")
}

func TestGitClient_CloneArgs(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "repos", "widgets")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("old"), 0o644))

	fake := &fakeGit{}
	g := NewGitClient(WithCommandRunner(fake.run), WithGitLogger(quietLogger()))
	require.NoError(t, g.Clone(context.Background(), "https://example.com/widgets.git", dest, "release"))

	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{"clone", "--depth", "1", "--branch", "release", "https://example.com/widgets.git", dest}, fake.calls[0])
	_, err := os.Stat(filepath.Join(dest, "stale.txt"))
	assert.True(t, os.IsNotExist(err), "existing clone directory should be removed")
}

func TestGitClient_RealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"app/core.py": "x = 1\n"})

	for _, args := range [][]string{
		{"init", "-q", "-b", "main"},
		{"add", "."},
		{"-c", "user.name=Ada", "-c", "user.email=ada@example.com", "commit", "-q", "-m", "first commit"},
		{"tag", "v0.1.0"},
	} {
		_, err := execGit(ctx, dir, args...)
		require.NoError(t, err, "git %v", args)
	}

	meta, err := NewGitClient(WithGitLogger(quietLogger())).Metadata(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Info.CurrentBranch)
	assert.Equal(t, 1, meta.Info.FileCount)
	require.Len(t, meta.RecentCommits, 1)
	assert.Equal(t, "first commit", meta.RecentCommits[0].Message)
	assert.Equal(t, "ada@example.com", meta.RecentCommits[0].AuthorEmail)
	require.Len(t, meta.Branches, 1)
	assert.Equal(t, "main", meta.Branches[0].Name)
	require.Len(t, meta.Tags, 1)
	assert.Equal(t, "v0.1.0", meta.Tags[0].Name)
}
