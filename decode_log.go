package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DecodeLogger writes decoded lines to zstd-compressed JSONL files,
// one file per day. Each write is flushed so a crash loses at most the
// current block.
type DecodeLogger struct {
	dataDir string
	enabled bool

	openFile   *os.File
	zw         *zstd.Encoder
	currentDay string
	fileMu     sync.Mutex
}

// NewDecodeLogger creates a transcript logger rooted at dataDir
func NewDecodeLogger(dataDir string, enabled bool) (*DecodeLogger, error) {
	if !enabled {
		return &DecodeLogger{enabled: false}, nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create decode log directory: %w", err)
	}

	dl := &DecodeLogger{
		dataDir: dataDir,
		enabled: true,
	}

	log.Printf("Decode logger initialized: dataDir=%s", dataDir)
	return dl, nil
}

// LogLine appends one decoded line to the current day's transcript
func (dl *DecodeLogger) LogLine(line DecodedLine) error {
	if dl == nil || !dl.enabled {
		return nil
	}

	dl.fileMu.Lock()
	defer dl.fileMu.Unlock()

	if err := dl.rotateIfNeeded(line.Time); err != nil {
		return err
	}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal decoded line: %w", err)
	}
	data = append(data, '\n')

	if _, err := dl.zw.Write(data); err != nil {
		return fmt.Errorf("failed to write decode log: %w", err)
	}
	return dl.zw.Flush()
}

// rotateIfNeeded opens the file for the line's date, closing the
// previous day's stream first. Appending to an existing file starts a
// new zstd frame; decoders concatenate frames transparently.
func (dl *DecodeLogger) rotateIfNeeded(timestamp time.Time) error {
	dateStr := timestamp.Format("2006-01-02")
	if dl.currentDay == dateStr {
		return nil
	}

	if dl.openFile != nil {
		dl.zw.Close()
		dl.openFile.Close()
		log.Printf("Decode logger: Closed previous log file")
	}

	filename := filepath.Join(dl.dataDir, fmt.Sprintf("decodes-%s.log.zst", dateStr))
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open decode log file: %w", err)
	}

	zw, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	dl.openFile = file
	dl.zw = zw
	dl.currentDay = dateStr
	log.Printf("Decode logger: Writing to %s", filename)
	return nil
}

// Close flushes and closes the open transcript
func (dl *DecodeLogger) Close() error {
	if dl == nil || !dl.enabled {
		return nil
	}

	dl.fileMu.Lock()
	defer dl.fileMu.Unlock()

	if dl.openFile != nil {
		if err := dl.zw.Close(); err != nil {
			log.Printf("Warning: error closing zstd stream: %v", err)
		}
		if err := dl.openFile.Close(); err != nil {
			log.Printf("Warning: error closing decode log file: %v", err)
			return err
		}
		dl.openFile = nil
		dl.currentDay = ""
		log.Printf("Decode logger: Closed log file")
	}
	return nil
}
