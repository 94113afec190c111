// Package gitrepo mirrors persona versions into a local git repository so
// that every add and update is also visible as a commit.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"persona/api/internal/persona"
)

const (
	ActionAdd    = "add"
	ActionUpdate = "update"

	committerName  = "persona-api"
	committerEmail = "persona-api@localhost"
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service owns one repository under baseDir. Commits are serialised.
type Service struct {
	baseDir string
	mu      sync.Mutex
	repo    *git.Repository
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir}
}

// Record writes the persona body to its file and commits it.
func (s *Service) Record(p persona.Persona, action string) (CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	rel := FilePath(p.Project, p.Type, p.Name)
	abs := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return CommitInfo{}, fmt.Errorf("create persona dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(render(p)), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return CommitInfo{}, fmt.Errorf("git add %s: %w", rel, err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("%s %s v%d", action, p.Name, p.Version), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  committerName,
			Email: committerEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit %s: %w", rel, err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History returns the commits touching one persona, newest first. limit <= 0
// means no limit.
func (s *Service) History(project, personaType, name string, limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := []CommitInfo{}
	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	if _, err := repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return items, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	rel := FilePath(project, personaType, name)
	iter, err := repo.Log(&git.LogOptions{FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// FilePath is the slash-separated path of a persona inside the repository.
func FilePath(project, personaType, name string) string {
	return path.Join(segment(project), segment(personaType), segment(persona.RowKey(name, 0))+".md")
}

// open initialises the repository on first use. Callers hold s.mu.
func (s *Service) open() (*git.Repository, error) {
	if s.repo != nil {
		return s.repo, nil
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainOpen(s.baseDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(s.baseDir, false)
		if err == nil {
			err = repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main")))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	s.repo = repo
	return repo, nil
}

func render(p persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Name)
	fmt.Fprintf(&b, "- project: %s\n- type: %s\n- version: %d\n\n", p.Project, p.Type, p.Version)
	b.WriteString(p.Persona)
	if !strings.HasSuffix(p.Persona, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}

// segment keeps user-supplied parts from escaping their directory.
func segment(part string) string {
	part = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, part)
	if part == "" || part == "." || part == ".." {
		return "_" + part
	}
	return part
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}
