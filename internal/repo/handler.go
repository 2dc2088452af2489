package repo

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileInfo describes one candidate file discovered in a repository.
type FileInfo struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
	Language  string `json:"language"`
	IsBinary  bool   `json:"is_binary"`
}

// RepositoryError wraps failures while fetching or reading a repository.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Config controls which files the handler surfaces.
type Config struct {
	MaxFileSize         int64
	MaxFilesPerRepo     int
	SupportedExtensions []string
	ExcludedDirs        []string
	TempDir             string
}

// Handler fetches repositories and walks their file trees.
type Handler struct {
	cfg        Config
	extensions map[string]bool
	excluded   map[string]bool
}

// NewHandler creates a handler and ensures the temp workspace directory exists.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.TempDir == "" {
		cfg.TempDir = "./temp_repos"
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, &RepositoryError{Op: "init", Err: err}
	}

	exts := make(map[string]bool, len(cfg.SupportedExtensions))
	for _, e := range cfg.SupportedExtensions {
		exts[strings.ToLower(e)] = true
	}
	excl := make(map[string]bool, len(cfg.ExcludedDirs))
	for _, d := range cfg.ExcludedDirs {
		excl[d] = true
	}
	return &Handler{cfg: cfg, extensions: exts, excluded: excl}, nil
}

// Fetch shallow-clones the repository into the temp workspace and returns the
// local path. A previous clone of the same repo is removed first.
func (h *Handler) Fetch(ctx context.Context, repoURL string) (string, error) {
	name := repoName(repoURL)
	dest := filepath.Join(h.cfg.TempDir, name)

	if err := os.RemoveAll(dest); err != nil {
		return "", &RepositoryError{Op: "clean", Err: err}
	}

	log.Printf("🔍 Cloning repository: %s", repoURL)
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", &RepositoryError{Op: "clone", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))}
	}
	return dest, nil
}

// ListFiles walks the repository tree and returns every regular file under
// the size cap, annotated with extension, language and a binary sniff.
// Directories from the exclusion list and paths matched by the repository's
// root .gitignore are skipped.
func (h *Handler) ListFiles(root string) ([]FileInfo, error) {
	ignore := loadGitignore(root)

	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if h.excluded[d.Name()] {
				return filepath.SkipDir
			}
			if ignore != nil && ignore.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore != nil && ignore.MatchesPath(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() > h.cfg.MaxFileSize {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		files = append(files, FileInfo{
			Path:      rel,
			Size:      info.Size(),
			Extension: ext,
			Language:  LanguageForExtension(ext),
			IsBinary:  isBinaryFile(path, ext),
		})
		return nil
	})
	if err != nil {
		return nil, &RepositoryError{Op: "walk", Err: err}
	}
	return files, nil
}

// FilterFiles applies the extension allow-list, excluded-directory check,
// binary skip and the per-repo file cap.
func (h *Handler) FilterFiles(files []FileInfo) []FileInfo {
	var out []FileInfo
	for _, f := range files {
		if f.IsBinary {
			continue
		}
		if !h.extensions[f.Extension] {
			continue
		}
		if h.inExcludedDir(f.Path) {
			continue
		}
		out = append(out, f)
		if h.cfg.MaxFilesPerRepo > 0 && len(out) >= h.cfg.MaxFilesPerRepo {
			log.Printf("⚠️  File cap reached (%d), remaining files skipped", h.cfg.MaxFilesPerRepo)
			break
		}
	}
	return out
}

// ReadFile reads a file as UTF-8, falling back to a Latin-1 decode for files
// with invalid byte sequences.
func (h *Handler) ReadFile(root, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return "", &RepositoryError{Op: "read", Err: err}
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), nil
}

// Cleanup removes a cloned workspace. Failures are logged, not returned.
func (h *Handler) Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		log.Printf("⚠️  Failed to clean up workspace %s: %v", path, err)
	}
}

func (h *Handler) inExcludedDir(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if h.excluded[part] {
			return true
		}
	}
	return false
}

func loadGitignore(root string) *gitignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	ign, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		log.Printf("⚠️  Failed to parse .gitignore: %v", err)
		return nil
	}
	return ign
}

func repoName(repoURL string) string {
	name := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if idx := strings.LastIndexAny(name, "/:"); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		name = "repo"
	}
	return name
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".o": true, ".class": true, ".jar": true, ".war": true, ".pyc": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".mp3": true,
	".mp4": true, ".avi": true, ".mov": true, ".db": true, ".sqlite": true,
}

// isBinaryFile checks the extension first, then sniffs the first KiB for a
// NUL byte.
func isBinaryFile(path, ext string) bool {
	if binaryExtensions[ext] {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 1024)
	n, _ := f.Read(buf)
	for _, b := range buf[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

var extensionLanguages = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".jsx":   "javascript",
	".tsx":   "typescript",
	".java":  "java",
	".go":    "go",
	".rs":    "rust",
	".cpp":   "cpp",
	".c":     "c",
	".h":     "c",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".rb":    "ruby",
	".swift": "swift",
	".md":    "markdown",
	".txt":   "text",
	".yml":   "yaml",
	".yaml":  "yaml",
	".json":  "json",
	".xml":   "xml",
	".sql":   "sql",
}

// LanguageForExtension maps a file extension to a language label used in
// chunk metadata. Unknown extensions map to "unknown".
func LanguageForExtension(ext string) string {
	if lang, ok := extensionLanguages[strings.ToLower(ext)]; ok {
		return lang
	}
	return "unknown"
}
