// Command sstdump inspects a primary index component: it walks the
// (key, RowIndexEntry) records and prints each partition's position and, for
// indexed entries, the block descriptors.
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/StrataDB/strata/pkg/common/log"
	"github.com/StrataDB/strata/pkg/sstable/clustering"
	"github.com/StrataDB/strata/pkg/sstable/rowindex"
)

func main() {
	indexPath := flag.String("index", "", "path to the primary index component")
	typeList := flag.String("types", "bytes", "comma-separated clustering column types (bytes,int32,int64)")
	skipPayloads := flag.Bool("keys-only", false, "skip entry payloads and print keys only")
	verbose := flag.Bool("v", false, "print block descriptors of indexed entries")
	flag.Parse()

	logger := log.GetDefaultLogger()

	if *indexPath == "" {
		fmt.Fprintln(os.Stderr, "usage: sstdump -index <path> [-types bytes,int32] [-keys-only] [-v]")
		os.Exit(2)
	}

	schema, err := parseSchema(*typeList)
	if err != nil {
		logger.Error("invalid schema: %v", err)
		os.Exit(1)
	}

	if err := dump(*indexPath, schema, *skipPayloads, *verbose); err != nil {
		logger.Error("dump failed: %v", err)
		os.Exit(1)
	}
}

func parseSchema(typeList string) (*clustering.Schema, error) {
	var types []clustering.ColumnType
	for _, name := range strings.Split(typeList, ",") {
		t, err := clustering.ParseType(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return &clustering.Schema{ClusteringTypes: types}, nil
}

func dump(path string, schema *clustering.Schema, keysOnly, verbose bool) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	serializer, err := rowindex.NewEntrySerializer(rowindex.LatestVersion, schema)
	if err != nil {
		return err
	}

	r := bufio.NewReader(file)
	for i := 0; ; i++ {
		key, err := readKey(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}

		if keysOnly {
			if err := rowindex.SkipEntry(r); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			fmt.Printf("%q\n", key)
			continue
		}

		entry, err := serializer.Deserialize(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		printEntry(key, entry, verbose)
	}
}

func readKey(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	key := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return key, nil
}

func printEntry(key []byte, entry rowindex.Entry, verbose bool) {
	if !entry.IsIndexed() {
		fmt.Printf("%q position=%d\n", key, entry.Position())
		return
	}

	deletion, err := entry.DeletionTime()
	if err != nil {
		fmt.Printf("%q position=%d <bad payload: %v>\n", key, entry.Position(), err)
		return
	}
	fmt.Printf("%q position=%d blocks=%d deletion=%s\n",
		key, entry.Position(), entry.ColumnsCount(), deletion)

	if !verbose {
		return
	}
	for i := 0; i < entry.ColumnsCount(); i++ {
		info, err := entry.IndexInfo(i)
		if err != nil {
			fmt.Printf("  block %d: <bad descriptor: %v>\n", i, err)
			return
		}
		marker := "none"
		if info.OpenMarker != nil {
			marker = info.OpenMarker.String()
		}
		fmt.Printf("  block %d: first=%s last=%s offset=%d width=%d openMarker=%s\n",
			i, info.FirstName, info.LastName, info.Offset, info.Width, marker)
	}
}
