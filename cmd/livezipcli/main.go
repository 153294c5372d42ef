// Command livezipcli is a thin demonstration front-end for the livezip
// core: it walks a local directory, pre-computes each file's CRC32, and
// serves the whole tree as a single streamed ZIP64 archive over HTTP with
// a correct Content-Length header.
//
// It is explicitly an external collaborator (see the package doc of
// livezip): fetching bytes from disk, HTTP routing, and ETag generation
// all live here, never in the core encoder.
package main

import (
	"context"
	"flag"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/liv3zip/livezip"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	root := flag.String("root", ".", "directory to serve as a ZIP64 archive")
	concurrency := flag.Int("concurrency", 8, "number of files to checksum concurrently before serving")
	flag.Parse()

	absRoot, err := filepath.Abs(*root)
	if err != nil {
		log.Fatalf("resolving root: %v", err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/archive.zip", archiveHandler(absRoot, *concurrency)).Methods(http.MethodGet)

	log.Printf("serving %s as a ZIP64 archive on %s/archive.zip", absRoot, *addr)
	log.Fatal(http.ListenAndServe(*addr, r))
}

// fileDescriptor is the metadata the CLI front-end must supply the
// encoder for one entry: everything NewFileEntry needs, computed ahead
// of time by reading the file once.
type fileDescriptor struct {
	archivePath string
	diskPath    string
	size        uint64
	crc32       uint32
}

func archiveHandler(root string, concurrency int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		descriptors, err := collectDescriptors(req.Context(), root, concurrency)
		if err != nil {
			http.Error(w, fmt.Sprintf("collecting files: %v", err), http.StatusInternalServerError)
			return
		}

		entries := make([]*livezip.FileEntry, len(descriptors))
		for i, d := range descriptors {
			d := d
			entries[i] = livezip.NewFileEntry(
				d.archivePath,
				livezip.Stored{},
				func() livezip.DataStream {
					return livezip.NewReaderDataStream(func() (io.Reader, error) {
						return os.Open(d.diskPath)
					})
				},
				d.size, d.size, d.crc32,
				fileModTime(d.diskPath),
			)
		}

		enc := livezip.NewEncoder(entries)
		if err := enc.Prepare(); err != nil {
			http.Error(w, fmt.Sprintf("preparing archive: %v", err), http.StatusInternalServerError)
			return
		}
		total, err := enc.TotalSize()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		data, err := enc.GetData(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer data.Close()

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", total))
		w.Header().Set("Etag", fmt.Sprintf("%q", uuid.New().String()))

		if _, err := io.Copy(w, data); err != nil {
			log.Printf("streaming archive: %v", err)
		}
	}
}

// collectDescriptors walks root and computes each regular file's size and
// CRC32, fetching a bounded number of files concurrently with errgroup
// before the (strictly single-threaded) Encoder ever sees them.
func collectDescriptors(ctx context.Context, root string, concurrency int) ([]*fileDescriptor, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	descriptors := make([]*fileDescriptor, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			d, err := describeFile(root, path)
			if err != nil {
				return err
			}
			descriptors[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return descriptors, nil
}

func describeFile(root, path string) (*fileDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	crc := crc32.NewIEEE()
	n, err := io.Copy(crc, f)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, err
	}

	return &fileDescriptor{
		archivePath: filepath.ToSlash(rel),
		diskPath:    path,
		size:        uint64(n),
		crc32:       crc.Sum32(),
	}, nil
}

func fileModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
