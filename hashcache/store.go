package hashcache

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// storeFile is the on-disk schema shared by backing stores and external
// reference stores. Hash values may be bare strings or {hash: ...} records;
// both shapes load.
type storeFile struct {
	HashParams string                     `json:"_hash_params"`
	Hashes     map[string]json.RawMessage `json:"hashes"`
}

type hashRecord struct {
	Hash string `json:"hash"`
}

// LoadStore reads a hash store from disk. Stores ending in .gz are
// gzip-compressed. Returns the recorded hash parameters and the URI→hash
// map.
func LoadStore(path string) (Params, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return Params{}, nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Params{}, nil, err
		}
		defer gz.Close()
		r = gz
	}

	var store storeFile
	if err := json.NewDecoder(r).Decode(&store); err != nil {
		return Params{}, nil, err
	}

	hashes := make(map[string]string, len(store.Hashes))
	for uri, raw := range store.Hashes {
		var rec hashRecord
		if err := json.Unmarshal(raw, &rec); err == nil && rec.Hash != "" {
			hashes[uri] = strings.ToLower(rec.Hash)
			continue
		}
		var bare string
		if err := json.Unmarshal(raw, &bare); err == nil && bare != "" {
			hashes[uri] = strings.ToLower(bare)
		}
	}
	return ParseParams(store.HashParams), hashes, nil
}

// WriteStore writes a hash store to disk in the record shape, gzipped when
// the path ends in .gz.
func WriteStore(path string, params Params, hashes map[string]string) error {
	records := make(map[string]hashRecord, len(hashes))
	for uri, h := range hashes {
		records[uri] = hashRecord{Hash: h}
	}
	payload := struct {
		HashParams string                `json:"_hash_params"`
		Hashes     map[string]hashRecord `json:"hashes"`
	}{
		HashParams: params.String(),
		Hashes:     records,
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return err
	}
	if gz != nil {
		return gz.Close()
	}
	return nil
}
