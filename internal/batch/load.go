package batch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
)

// LoadResult reports the outcome of LoadFile.
type LoadResult struct {
	RowsAffected int64 `json:"rowsAffected"`
	Commands     int   `json:"commands"`
}

// LoadFile executes the newline-delimited statements in path inside one
// exclusive transaction. Blank lines are skipped; every other line is one
// command. A missing file fails with FILE_NOT_FOUND; a file without
// statements succeeds without opening a transaction.
func LoadFile(ctx context.Context, conn *store.Conn, path string) (LoadResult, error) {
	commands, err := readCommands(path)
	if err != nil {
		return LoadResult{}, err
	}
	if len(commands) == 0 {
		return LoadResult{}, nil
	}
	res, err := Execute(ctx, conn, commands)
	if err != nil {
		return LoadResult{}, err
	}
	return LoadResult{RowsAffected: res.RowsAffected, Commands: res.Commands}, nil
}

func readCommands(path string) ([]Command, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sqlerr.NewFileNotFoundError(path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var commands []Command
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		commands = append(commands, Command{SQL: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return commands, nil
}
