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
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// DefaultCommitLimit is the number of recent commits read from history.
const DefaultCommitLimit = 10

// fieldSep separates fields in git --format output.
const fieldSep = "\x1f"

// MetadataSource reads repository metadata.
type MetadataSource interface {
	Metadata(ctx context.Context, repoDir string) (*graph.Metadata, error)
}

// CommandRunner runs git with args in dir and returns its stdout.
type CommandRunner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// GitOption configures a GitClient.
type GitOption func(*GitClient)

// WithGitLogger sets the logger used for diagnostics.
func WithGitLogger(logger *slog.Logger) GitOption {
	return func(g *GitClient) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCommandRunner replaces the process runner.
func WithCommandRunner(run CommandRunner) GitOption {
	return func(g *GitClient) {
		if run != nil {
			g.run = run
		}
	}
}

// WithCommitLimit sets how many recent commits Metadata reads.
func WithCommitLimit(n int) GitOption {
	return func(g *GitClient) {
		if n > 0 {
			g.commitLimit = n
		}
	}
}

// GitClient clones repositories and reads their metadata through the git CLI.
//
// Thread Safety:
//
//	Safe for concurrent use. Each call runs its own processes.
type GitClient struct {
	run         CommandRunner
	logger      *slog.Logger
	commitLimit int
}

// NewGitClient creates a GitClient that runs the git binary on PATH.
func NewGitClient(opts ...GitOption) *GitClient {
	g := &GitClient{
		run:         execGit,
		logger:      slog.Default(),
		commitLimit: DefaultCommitLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Clone makes a shallow clone of url into dest, replacing anything already
// there.
//
// Inputs:
//
//	ctx - Context for cancellation; kills git when done.
//	url - Clone URL or path.
//	dest - Target directory.
//	branch - Branch to check out. Empty uses the remote default.
func (g *GitClient) Clone(ctx context.Context, url, dest, branch string) error {
	if _, err := os.Stat(dest); err == nil {
		g.logger.Info("removing existing directory", slog.String("path", dest))
		if err := os.RemoveAll(dest); err != nil {
			g.logger.Warn("could not fully remove directory, proceeding",
				slog.String("path", dest),
				slog.Any("error", err),
			)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating clone parent: %w", err)
	}

	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, dest)

	g.logger.Info("cloning repository", slog.String("url", url), slog.String("dest", dest))
	if _, err := g.run(ctx, "", args...); err != nil {
		return fmt.Errorf("cloning %s: %w", url, err)
	}
	return nil
}

// Metadata implements MetadataSource.
//
// Description:
//
//	Reads descriptive info, branches, tags and recent commits. Info fields
//	that cannot be read fall back to their zero values; a directory that is
//	not a git work tree is an error.
func (g *GitClient) Metadata(ctx context.Context, repoDir string) (*graph.Metadata, error) {
	if _, err := g.git(ctx, repoDir, "rev-parse", "--is-inside-work-tree"); err != nil {
		return nil, fmt.Errorf("%s is not a git work tree: %w", repoDir, err)
	}

	info := g.info(ctx, repoDir)
	branches, err := g.branches(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	tags, err := g.tags(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	commits, err := g.commits(ctx, repoDir)
	if err != nil {
		return nil, err
	}

	g.logger.Info("extracted git metadata",
		slog.Int("branches", len(branches)),
		slog.Int("tags", len(tags)),
		slog.Int("commits", len(commits)),
	)
	return &graph.Metadata{
		Info:          info,
		Branches:      branches,
		Tags:          tags,
		RecentCommits: commits,
	}, nil
}

func (g *GitClient) info(ctx context.Context, dir string) *graph.RepositoryInfo {
	info := &graph.RepositoryInfo{
		CurrentBranch: graph.DefaultCurrentBranch,
		Size:          graph.DefaultRepoSize,
	}
	if out, err := g.git(ctx, dir, "config", "--get", "remote.origin.url"); err == nil {
		info.RemoteURL = out
	}
	if out, err := g.git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && out != "" && out != "HEAD" {
		info.CurrentBranch = out
	}
	if out, err := g.git(ctx, dir, "ls-files"); err == nil {
		info.FileCount = len(lines(out))
	}
	if out, err := g.git(ctx, dir, "shortlog", "-sne", "HEAD"); err == nil {
		info.ContributorCount = len(lines(out))
	}
	if size, err := dirSize(dir); err == nil {
		info.Size = humanize.Bytes(uint64(size))
	}
	return info
}

func (g *GitClient) branches(ctx context.Context, dir string) ([]graph.BranchInfo, error) {
	out, err := g.git(ctx, dir, "for-each-ref", "--sort=-committerdate",
		"--format=%(refname:short)"+fieldSep+"%(committerdate:iso8601)"+fieldSep+"%(contents:subject)",
		"refs/heads", "refs/remotes")
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	branches := []graph.BranchInfo{}
	seen := make(map[string]bool)
	for _, line := range lines(out) {
		f := fields(line, 3)
		name := strings.TrimPrefix(f[0], "origin/")
		if name == "HEAD" || name == "origin" || seen[name] {
			continue
		}
		seen[name] = true
		branches = append(branches, graph.BranchInfo{Name: name, LastCommitDate: f[1], LastCommitMessage: f[2]})
	}
	return branches, nil
}

func (g *GitClient) tags(ctx context.Context, dir string) ([]graph.TagInfo, error) {
	out, err := g.git(ctx, dir, "for-each-ref", "--sort=-creatordate",
		"--format=%(refname:short)"+fieldSep+"%(creatordate:iso8601)", "refs/tags")
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	tags := []graph.TagInfo{}
	for _, line := range lines(out) {
		f := fields(line, 2)
		tags = append(tags, graph.TagInfo{Name: f[0], Date: f[1]})
	}
	return tags, nil
}

func (g *GitClient) commits(ctx context.Context, dir string) ([]graph.CommitInfo, error) {
	out, err := g.git(ctx, dir, "log", "-n", strconv.Itoa(g.commitLimit),
		"--format=%H"+fieldSep+"%an"+fieldSep+"%ae"+fieldSep+"%aI"+fieldSep+"%s")
	if err != nil {
		// An empty repository has no HEAD to log.
		g.logger.Debug("reading commits failed", slog.Any("error", err))
		return []graph.CommitInfo{}, nil
	}
	commits := []graph.CommitInfo{}
	for _, line := range lines(out) {
		f := fields(line, 5)
		commits = append(commits, graph.CommitInfo{
			Hash:        f[0],
			AuthorName:  f[1],
			AuthorEmail: f[2],
			Date:        f[3],
			Message:     f[4],
		})
	}
	return commits, nil
}

// git runs one command and returns its trimmed output.
func (g *GitClient) git(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := g.run(ctx, dir, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func execGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimRight(l, "\r"); strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// fields splits a formatted line into exactly n fields.
func fields(line string, n int) []string {
	f := strings.SplitN(line, fieldSep, n)
	for len(f) < n {
		f = append(f, "")
	}
	return f
}

// dirSize sums regular file sizes under dir, skipping .git.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}

// RepoName derives a repository name from a clone URL or path: the last
// path segment without a trailing ".git".
func RepoName(source string) string {
	s := strings.TrimRight(source, "/\\")
	if i := strings.LastIndexAny(s, "/\\:"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, ".git")
}
