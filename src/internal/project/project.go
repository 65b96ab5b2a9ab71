// Package project reads the Unity-generated solution of a workspace to tell
// which assembly a C# file is compiled into.
package project

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"unity-references/src/internal/common"
)

// Marker paths every Unity project root contains.
var unityMarkers = []string{
	filepath.Join("ProjectSettings", "ProjectVersion.txt"),
	filepath.Join("ProjectSettings", "ProjectSettings.asset"),
	"Assets",
}

var (
	solutionProjectPattern = regexp.MustCompile(`^Project\(".*"\) = "(.*)", "(.*)", ".*"$`)
	compileItemPattern     = regexp.MustCompile(`^\s*<Compile\s*Include="(.*\.cs)"\s*/>$`)
)

// Project is one C# project listed in a solution.
type Project struct {
	Assembly string
	MetaFile string   // absolute path of the .csproj
	Files    []string // absolute, cleaned paths of compiled sources
}

// Index maps source files to their assembly for one solution.
type Index struct {
	Solution string
	Projects []Project

	byFile map[string]string
}

// NewIndex builds the file lookup for projects.
func NewIndex(solution string, projects []Project) *Index {
	idx := &Index{
		Solution: solution,
		Projects: projects,
		byFile:   make(map[string]string),
	}
	for _, p := range projects {
		for _, f := range p.Files {
			if _, dup := idx.byFile[fileKey(f)]; !dup {
				idx.byFile[fileKey(f)] = p.Assembly
			}
		}
	}
	return idx
}

// AssemblyFor returns the assembly that compiles path.
func (idx *Index) AssemblyFor(path string) (string, bool) {
	if idx == nil {
		return "", false
	}
	assembly, ok := idx.byFile[fileKey(path)]
	return assembly, ok
}

// FileCount returns the number of indexed source files.
func (idx *Index) FileCount() int {
	if idx == nil {
		return 0
	}
	return len(idx.byFile)
}

func fileKey(path string) string {
	return filepath.Clean(path)
}

// DetectUnityProject checks the marker paths under root. The result is
// PathExists only if every marker exists.
func DetectUnityProject(root string) common.PathState {
	paths := make([]string, len(unityMarkers))
	for i, marker := range unityMarkers {
		paths[i] = filepath.Join(root, marker)
	}
	return common.CheckAll(paths...)
}

// HasUnityProject reports whether root looks like a Unity project.
func HasUnityProject(root string) bool {
	return DetectUnityProject(root) == common.PathExists
}

// FindSolutionFile returns the first .sln directly under root, by name, or
// "" when there is none.
func FindSolutionFile(root string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*.sln"))
	if err != nil {
		return "", fmt.Errorf("failed to search for solution files: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}

	sort.Strings(matches)
	if len(matches) > 1 {
		common.WorkspaceLogger.Warn("Multiple solution files in %s, using %s", root, filepath.Base(matches[0]))
	}
	return matches[0], nil
}

// ParseSolution reads the solution and every project it lists. Project files
// are read concurrently.
func ParseSolution(ctx context.Context, solutionFile string) (*Index, error) {
	content, err := os.ReadFile(solutionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read solution %s: %w", solutionFile, err)
	}

	root := filepath.Dir(solutionFile)
	entries := parseSolutionProjects(content)
	projects := make([]Project, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			metaFile := joinNative(root, entry.path)
			files, err := readProjectFiles(root, metaFile)
			if err != nil {
				return err
			}
			projects[i] = Project{Assembly: entry.assembly, MetaFile: metaFile, Files: files}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewIndex(solutionFile, projects), nil
}

type solutionEntry struct {
	assembly string
	path     string
}

func parseSolutionProjects(content []byte) []solutionEntry {
	var entries []solutionEntry
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		m := solutionProjectPattern.FindStringSubmatch(strings.TrimRight(scanner.Text(), "\r"))
		if m == nil {
			continue
		}
		entries = append(entries, solutionEntry{assembly: m[1], path: m[2]})
	}
	return entries
}

// readProjectFiles lists compiled sources. Paths in Unity project files are
// relative to the solution directory, not the project file.
func readProjectFiles(root, metaFile string) ([]string, error) {
	content, err := os.ReadFile(metaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read project %s: %w", metaFile, err)
	}

	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		m := compileItemPattern.FindStringSubmatch(strings.TrimRight(scanner.Text(), "\r"))
		if m == nil {
			continue
		}
		files = append(files, joinNative(root, m[1]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan project %s: %w", metaFile, err)
	}
	return files, nil
}

// joinNative joins a solution-relative path that may use either separator.
func joinNative(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(rel, `\`, "/")))
}
