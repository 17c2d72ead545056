package thumbnail

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"folio/internal/imageio"
	"folio/internal/logging"
)

// Size is a freedesktop thumbnail flavour.
type Size string

const (
	Normal Size = "normal"
	Large  Size = "large"
)

// Pixels returns the longest side of thumbnails of this size.
func (s Size) Pixels() int {
	if s == Normal {
		return 128
	}
	return 256
}

// ParseSize accepts "normal" or "large".
func ParseSize(value string) (Size, error) {
	switch Size(value) {
	case Normal, Large:
		return Size(value), nil
	}
	return "", fmt.Errorf("unknown thumbnail size %q", value)
}

const software = "folio"

// Cache stores thumbnails in a freedesktop.org thumbnail directory
// (~/.cache/thumbnails) so file managers and folio share them.
type Cache struct {
	root   string
	size   Size
	logger *slog.Logger
}

// NewCache prepares root/normal and root/large.
func NewCache(root string, size Size, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if _, err := ParseSize(string(size)); err != nil {
		return nil, err
	}
	for _, sub := range []Size{Normal, Large} {
		if err := os.MkdirAll(filepath.Join(root, string(sub)), 0o700); err != nil {
			return nil, fmt.Errorf("create thumbnail dir: %w", err)
		}
	}
	return &Cache{root: root, size: size, logger: logger}, nil
}

// Size returns the flavour this cache writes.
func (c *Cache) Size() Size { return c.size }

// URI returns the file URI of an absolute path as used for cache keys.
func URI(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// Name returns the cache file name for path: the md5 of its URI.
func Name(path string) string {
	sum := md5.Sum([]byte(URI(path)))
	return hex.EncodeToString(sum[:]) + ".png"
}

// PathFor returns where the thumbnail of src is stored.
func (c *Cache) PathFor(src string) string {
	return c.pathFor(src, c.size)
}

func (c *Cache) pathFor(src string, size Size) string {
	return filepath.Join(c.root, string(size), Name(src))
}

// Lookup returns the cached thumbnail of src when it exists and was made
// from the current file (Thumb::MTime matches).
func (c *Cache) Lookup(src string) (string, bool) {
	info, err := os.Stat(src)
	if err != nil {
		return "", false
	}
	path := c.PathFor(src)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	text, err := readText(data)
	if err != nil {
		return "", false
	}
	if text["Thumb::MTime"] != strconv.FormatInt(info.ModTime().Unix(), 10) {
		return "", false
	}
	return path, true
}

// Get returns the thumbnail of src, generating it when missing or stale.
func (c *Cache) Get(src string) (string, error) {
	if path, ok := c.Lookup(src); ok {
		return path, nil
	}
	return c.Generate(src)
}

// Generate decodes src, scales it and writes the thumbnail.
func (c *Cache) Generate(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	img, err := imageio.Load(src)
	if err != nil {
		return "", err
	}
	return c.write(src, info, img)
}

func (c *Cache) write(src string, info os.FileInfo, img image.Image) (string, error) {
	encoded, err := imageio.EncodePNG(imageio.Fit(img, c.size.Pixels()))
	if err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	entries := []textEntry{
		{"Thumb::URI", URI(src)},
		{"Thumb::MTime", strconv.FormatInt(info.ModTime().Unix(), 10)},
		{"Thumb::Size", strconv.FormatInt(info.Size(), 10)},
	}
	if mt := mime.TypeByExtension(filepath.Ext(src)); mt != "" {
		entries = append(entries, textEntry{"Thumb::Mimetype", mt})
	}
	entries = append(entries, textEntry{"Software", software})
	data, err := insertText(encoded, entries)
	if err != nil {
		return "", err
	}

	dst := c.PathFor(src)
	if err := writeAtomic(dst, data); err != nil {
		return "", err
	}
	c.logger.Debug("thumbnail written",
		logging.String("source", src),
		logging.String("thumbnail", dst),
	)
	return dst, nil
}

func writeAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".folio-thumb-*")
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write thumbnail: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store thumbnail: %w", err)
	}
	return nil
}

// scratchDir holds thumbnails of images that are not files yet. Names there
// are the md5 of the encoded image.
const scratchDir = "folio"

// Scratch writes the thumbnail of an encoded image that has no file. The
// result lives outside the shared freedesktop directories.
func (c *Cache) Scratch(data []byte) (string, error) {
	sum := md5.Sum(data)
	dst := filepath.Join(c.root, scratchDir, hex.EncodeToString(sum[:])+".png")
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	img, err := imageio.Decode(data)
	if err != nil {
		return "", err
	}
	encoded, err := imageio.EncodePNG(imageio.Fit(img, c.size.Pixels()))
	if err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}
	if err := writeAtomic(dst, encoded); err != nil {
		return "", err
	}
	return dst, nil
}

// Delete removes every cached thumbnail of src.
func (c *Cache) Delete(src string) error {
	var errs []error
	for _, size := range []Size{Normal, Large} {
		if err := os.Remove(c.pathFor(src, size)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Metadata returns the text chunks of a thumbnail file.
func Metadata(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return readText(data)
}
