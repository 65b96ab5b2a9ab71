// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Assemblies and sources of the project created by NewUnityProject.
const (
	RuntimeAssembly = "Assembly-CSharp"
	EditorAssembly  = "Assembly-CSharp-Editor"
)

var (
	RuntimeSources = []string{"Assets/Scripts/Player.cs", "Assets/Scripts/Enemy.cs"}
	EditorSources  = []string{"Assets/Editor/PlayerInspector.cs"}
)

const solutionTemplate = "\r\n" +
	"Microsoft Visual Studio Solution File, Format Version 11.00\r\n" +
	`Project("{FAE04EC0-301F-11D3-BF4B-00C04F79EFBC}") = "Assembly-CSharp", "Assembly-CSharp.csproj", "{00000000-0000-0000-0000-000000000001}"` + "\r\n" +
	"EndProject\r\n" +
	`Project("{FAE04EC0-301F-11D3-BF4B-00C04F79EFBC}") = "Assembly-CSharp-Editor", "Assembly-CSharp-Editor.csproj", "{00000000-0000-0000-0000-000000000002}"` + "\r\n" +
	"EndProject\r\n" +
	"Global\r\nEndGlobal\r\n"

const runtimeProject = `<Project>
  <ItemGroup>
    <Compile Include="Assets\Scripts\Player.cs" />
    <Compile Include="Assets\Scripts\Enemy.cs" />
  </ItemGroup>
</Project>
`

const editorProject = `<Project>
  <ItemGroup>
    <Compile Include="Assets\Editor\PlayerInspector.cs" />
  </ItemGroup>
</Project>
`

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// NewUnityMarkers creates a directory that looks like a Unity project root
// but has no generated solution.
func NewUnityMarkers(t testing.TB) string {
	t.Helper()
	root := t.TempDir()
	WriteFile(t, filepath.Join(root, "ProjectSettings", "ProjectVersion.txt"), "m_EditorVersion: 2022.3.10f1\n")
	WriteFile(t, filepath.Join(root, "ProjectSettings", "ProjectSettings.asset"), "%YAML 1.1\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Assets"), 0755))
	return root
}

// NewUnityProject creates a Unity project with a solution named after the
// directory and two projects.
func NewUnityProject(t testing.TB) string {
	t.Helper()
	root := NewUnityMarkers(t)
	WriteFile(t, filepath.Join(root, filepath.Base(root)+".sln"), solutionTemplate)
	WriteFile(t, filepath.Join(root, RuntimeAssembly+".csproj"), runtimeProject)
	WriteFile(t, filepath.Join(root, EditorAssembly+".csproj"), editorProject)
	for _, src := range append(append([]string{}, RuntimeSources...), EditorSources...) {
		WriteFile(t, filepath.Join(root, filepath.FromSlash(src)), "class C {}\n")
	}
	return root
}

// RemoveProject deletes one generated .csproj so parsing the solution fails.
func RemoveProject(t testing.TB, root, assembly string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(root, assembly+".csproj")))
}
