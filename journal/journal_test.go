// Copyright (c) 2025 The Firma-Sign Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// These tests must be run serially, since the journal is coordinated by a
// single goroutine with package-level channels.

package journal

import (
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/firma-sign/firma-sign/config"
	"github.com/firma-sign/firma-sign/fstest"
)

// runs all tests serially
func TestRunner(t *testing.T) {
	tester := SerialTests{Test: t}
	tester.TestInitAndFinalize()
	tester.TestRecordCompletedTransfer()
	tester.TestRecordCancelledTransfer()
	tester.TestRejectsNonTerminalStatus()
	tester.TestRecordsRespectTimeRange()
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}

// this function gets called at the beginning of a test session
func setup() {
	fstest.EnableDebugLogging()

	log.Print("Creating testing directory...\n")
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "firma-sign-journal-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}

	myConfig := strings.ReplaceAll(journalConfig, "TESTING_DIR", TESTING_DIR)
	err = config.Init([]byte(myConfig))
	if err != nil {
		log.Panicf("Couldn't initialize configuration: %s", err)
	}
}

// this function gets called after all tests have been run
func breakdown() {
	if IsOpen() {
		Finalize()
	}
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// To run the tests serially, we attach them to a SerialTests type and
// have them run by a single test runner.
type SerialTests struct{ Test *testing.T }

func (t *SerialTests) TestInitAndFinalize() {
	assert := assert.New(t.Test)

	assert.False(IsOpen())
	err := Init()
	assert.Nil(err)
	assert.True(IsOpen())
	err = Finalize()
	assert.Nil(err)
	assert.False(IsOpen())
}

func (t *SerialTests) TestRecordCompletedTransfer() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)

	manifest, err := NewManifest("transfer-1", []ManifestDocument{
		{
			Id:       "doc-1700000000000-abc123",
			FileName: "contract.pdf",
			Hash:     "55c3afc0a2d3b256332425eeebc581ac55c3afc0a2d3b256332425eeebc581ac",
			Size:     1323656,
			Path:     "contracts/2026/08/doc-1700000000000-abc123/contract.pdf",
		},
	})
	assert.Nil(err)

	record := Record{
		Id:            "transfer-1",
		Direction:     "outgoing",
		Transport:     "email",
		Status:        "completed",
		CompletedAt:   time.Now().UTC().Truncate(time.Second),
		DocumentCount: 1,
		PayloadBytes:  1323656,
		Manifest:      manifest,
	}
	err = RecordTransfer(record)
	assert.Nil(err)

	records, err := Records(record.CompletedAt.Add(-time.Minute),
		record.CompletedAt.Add(time.Minute))
	assert.Nil(err)
	assert.Equal(1, len(records))
	assert.Equal(record.Id, records[0].Id)
	assert.Equal(record.Direction, records[0].Direction)
	assert.Equal(record.Transport, records[0].Transport)
	assert.Equal(record.Status, records[0].Status)
	assert.Equal(record.DocumentCount, records[0].DocumentCount)
	assert.Equal(record.PayloadBytes, records[0].PayloadBytes)
	assert.NotNil(records[0].Manifest)
	assert.Equal(manifest.ResourceNames(), records[0].Manifest.ResourceNames())

	err = Finalize()
	assert.Nil(err)
}

func (t *SerialTests) TestRecordCancelledTransfer() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)

	record := Record{
		Id:            "transfer-2",
		Direction:     "incoming",
		Transport:     "p2p",
		Status:        "cancelled",
		CompletedAt:   time.Now().UTC().Truncate(time.Second),
		DocumentCount: 3,
		PayloadBytes:  9999,
	}
	err = RecordTransfer(record)
	assert.Nil(err)

	records, err := Records(record.CompletedAt.Add(-time.Minute),
		record.CompletedAt.Add(time.Minute))
	assert.Nil(err)
	found := false
	for _, stored := range records {
		if stored.Id == "transfer-2" {
			found = true
			assert.Equal("cancelled", stored.Status)
			assert.Nil(stored.Manifest)
		}
	}
	assert.True(found)

	err = Finalize()
	assert.Nil(err)
}

func (t *SerialTests) TestRejectsNonTerminalStatus() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)

	err = RecordTransfer(Record{Id: "transfer-3", Status: "pending"})
	assert.NotNil(err)

	err = Finalize()
	assert.Nil(err)
}

func (t *SerialTests) TestRecordsRespectTimeRange() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)

	longAgo := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	records, err := Records(longAgo, longAgo.Add(time.Hour))
	assert.Nil(err)
	assert.Equal(0, len(records))

	err = Finalize()
	assert.Nil(err)
}

// temporary testing directory
var TESTING_DIR string

// configuration
const journalConfig string = `
service:
  port: 8080
  maxConnections: 100
storage:
  path: TESTING_DIR
auth:
  jwtSecret: not-a-real-secret
`
