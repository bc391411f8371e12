// Package interpret implements the stateful FE-I4 raw-data decoder and
// event segmenter. An Interpreter consumes successive chunks of raw words
// and emits a flat Hit table, tracking cross-chunk state (the
// in-progress event, global counters, and readout correlation) for the
// life of the Interpreter.
package interpret

import (
	"errors"
	"fmt"

	"github.com/silab-bonn/fei4raw/internal/fehit"
	"github.com/silab-bonn/fei4raw/internal/feword"
)

// Default settings, matching Interpret::setStandardSettings.
const (
	DefaultNbCID         = 16
	DefaultMaxTot         = 13
	DefaultMaxTdcDelay    = 255
	DefaultMaxTrigNumber  = 1<<31 - 1
	maxHitBufferSize      = 4000000
	numServiceRecordCodes = 32
	numTdcValues          = 4096
)

// ErrMetaTableCorrupt is returned by SetMetaData/SetMetaDataV2 when the
// readout boundary table fails its contiguity sanity check.
var ErrMetaTableCorrupt = errors.New("interpret: readout meta table is not contiguous")

// ErrHitIndexOutOfRange is a fatal, caller-buffer-too-small condition.
var ErrHitIndexOutOfRange = errors.New("interpret: hit output array too small")

// Settings holds the tunable flags of §4.2. Zero value is not usable
// directly; start from DefaultSettings, which applies the documented
// defaults, and pass the result to NewInterpreter.
type Settings struct {
	NbCID                   uint16
	MaxTot                  uint8
	FlavorB                 bool
	AlignAtTriggerNumber    bool
	AlignAtTdcWord          bool
	UseTriggerTimeStamp     bool
	UseTdcTriggerTimeStamp  bool
	MaxTdcDelay             uint8
	MaxTriggerNumber        uint32
	CreateEmptyEventHits    bool
	CreateMetaDataWordIndex bool
}

// DefaultSettings returns the standard settings (mirrors
// Interpret::setStandardSettings).
func DefaultSettings() Settings {
	return Settings{
		NbCID:            DefaultNbCID,
		MaxTot:           DefaultMaxTot,
		MaxTdcDelay:      DefaultMaxTdcDelay,
		MaxTriggerNumber: DefaultMaxTrigNumber,
	}
}

// Counters is a snapshot of all cumulative counters, returned by Stats.
type Counters struct {
	DataWords         uint64
	Triggers          uint64
	Events            int64
	IncompleteEvents  uint64
	DataRecords       uint64
	DataHeaders       uint64
	ServiceRecords    uint64
	UnknownWords      uint64
	TDCWords          uint64
	OtherWords        uint64
	Hits              uint64
	EmptyEvents       uint64
	MaxHitsPerEvent   uint64
	TriggerErrorCount [fehit.NumTriggerStatusBits]uint32
	EventErrorCount   [fehit.NumEventStatusBits]uint32
	TDCCount          [numTdcValues]uint32
	ServiceRecordCount [numServiceRecordCodes]uint32
}

// event holds the in-progress event's scratch state, reset at the start
// of every event (resetEventVariables).
type event struct {
	nDataHeader    int
	nDataRecord    int
	dBCID          int
	triggerStatus  fehit.TriggerStatus
	status         fehit.EventStatus
	serviceRecord  uint32
	bcidError      bool
	triggerWords   int
	tdcCount       uint16
	tdcTimeStamp   uint8
	triggerNumber  uint32
	eventTriggerNr uint32
	startBCID      int
	startLVL1ID    int
	upperLVL1ID    int
	totalHits      int
}

// Interpreter is the stateful decoder. It owns its hit buffer, event
// scratch state, and counters; callers borrow the results of Hits()
// read-only until the next InterpretRawData call.
type Interpreter struct {
	settings Settings
	flavor   feword.Flavor

	counters Counters

	firstTriggerNrSet bool
	firstTdcSet       bool
	lastTriggerNumber uint32
	dataWordIndex     uint32

	ev event

	hitBuffer []fehit.Hit // event-local, flushed into chunkHits on finalize

	chunkHits []fehit.Hit // hits produced by the most recent InterpretRawData call

	readouts            []fehit.ReadoutInfo
	metaTableSet         bool
	metaEventIndex       []int64
	lastMetaIndexNotSet  int
	lastWordIndexSet     uint32

	metaWordIndex       []fehit.MetaWordInfoOut
	actualMetaWordIndex int
	startWordIndex      uint32
}

// NewInterpreter constructs an Interpreter with the given settings and
// chip flavor.
func NewInterpreter(flavor feword.Flavor, settings Settings) *Interpreter {
	ip := &Interpreter{
		settings: settings,
		flavor:   flavor,
	}
	settings.FlavorB = flavor == feword.FlavorB
	ip.settings = settings
	return ip
}

// SetMetaData installs the V1 readout boundary table. It is fatal
// (returns ErrMetaTableCorrupt) if the table is not internally
// contiguous: consecutive rows must satisfy start+length==stop and the
// next row's start must equal the previous row's stop, unless the next
// row's start is 0 (a reset).
func (ip *Interpreter) SetMetaData(readouts []fehit.ReadoutInfo) error {
	if err := validateReadouts(readouts); err != nil {
		return err
	}
	ip.readouts = readouts
	ip.metaTableSet = true
	return nil
}

// SetMetaDataV2 installs the V2 readout boundary table (two timestamps
// per row instead of one). Contiguity rules are identical to V1.
func (ip *Interpreter) SetMetaDataV2(readouts []fehit.ReadoutInfo) error {
	return ip.SetMetaData(readouts)
}

func validateReadouts(readouts []fehit.ReadoutInfo) error {
	if len(readouts) == 0 {
		return fmt.Errorf("interpret: %w: empty readout table", ErrMetaTableCorrupt)
	}
	for i := 0; i < len(readouts); i++ {
		r := readouts[i]
		if r.StartIndex+r.Length != r.StopIndex {
			return fmt.Errorf("interpret: %w: row %d start+length != stop", ErrMetaTableCorrupt, i)
		}
		if i+1 < len(readouts) {
			next := readouts[i+1]
			if r.StopIndex != next.StartIndex && next.StartIndex != 0 {
				return fmt.Errorf("interpret: %w: row %d not contiguous with row %d", ErrMetaTableCorrupt, i, i+1)
			}
		}
	}
	return nil
}

// SetMetaDataEventIndex installs a caller-owned output array to be filled
// with the event number of the first event touching each readout. The
// slice's existing length is used as its capacity; entries beyond what
// correlation reaches are left untouched.
func (ip *Interpreter) SetMetaDataEventIndex(buf []int64) {
	ip.metaEventIndex = buf
}

// SetMetaDataWordIndex installs a caller-owned output array to be filled
// with (event_index, start_word, stop_word) triples, one per event.
func (ip *Interpreter) SetMetaDataWordIndex(buf []fehit.MetaWordInfoOut) {
	ip.metaWordIndex = buf
}

// Reset clears all cumulative state (counters, event scratch, readout
// correlation cursor) as if the Interpreter were newly constructed.
func (ip *Interpreter) Reset() {
	ip.counters = Counters{}
	ip.ev = event{}
	ip.hitBuffer = ip.hitBuffer[:0]
	ip.chunkHits = nil
	ip.firstTriggerNrSet = false
	ip.firstTdcSet = false
	ip.lastTriggerNumber = 0
	ip.dataWordIndex = 0
	ip.lastMetaIndexNotSet = 0
	ip.lastWordIndexSet = 0
	ip.startWordIndex = 0
	ip.actualMetaWordIndex = 0
}

// ResetMetaDataCounter rewinds only the readout-correlation cursor,
// leaving event/hit counters untouched.
func (ip *Interpreter) ResetMetaDataCounter() {
	ip.lastWordIndexSet = 0
	ip.dataWordIndex = 0
}

// Stats returns a snapshot of all cumulative counters.
func (ip *Interpreter) Stats() Counters {
	return ip.counters
}

// Hits returns the hits produced by the most recent InterpretRawData
// call. The backing array is owned by the Interpreter and is
// overwritten by the next call.
func (ip *Interpreter) Hits() []fehit.Hit {
	return ip.chunkHits
}

// InterpretRawData processes one chunk of raw words, appending finished
// hits to the Interpreter's internal per-chunk buffer (retrievable via
// Hits) and advancing all cumulative state. It never aborts on malformed
// input; anomalies are recorded as event_status/trigger_status flags and
// counters (§7).
func (ip *Interpreter) InterpretRawData(words []uint32) error {
	ip.chunkHits = ip.chunkHits[:0]

	for _, w := range words {
		ip.correlateMetaWordIndex(ip.counters.Events, ip.dataWordIndex)
		ip.counters.DataWords++
		ip.dataWordIndex++

		decoded := feword.Decode(w, ip.flavor)
		switch v := decoded.(type) {
		case feword.DataHeader:
			ip.onDataHeader(v)
		case feword.Trigger:
			ip.onTrigger(v)
		case feword.Service:
			ip.onService(v)
		case feword.TDC:
			ip.onTDC(v)
		case feword.DataRecord:
			ip.onDataRecord(v)
		case feword.AddressRecord:
			ip.counters.OtherWords++
		case feword.ValueRecord:
			ip.counters.OtherWords++
		default:
			ip.addEventErrorCode(fehit.UnknownWord)
			ip.counters.UnknownWords++
		}

		if ip.ev.bcidError {
			ip.addEvent()
			ip.counters.IncompleteEvents++
			if dh, ok := decoded.(feword.DataHeader); ok {
				ip.ev.nDataHeader = 1
				ip.ev.startBCID = int(dh.BCID)
				ip.ev.startLVL1ID = int(dh.LVL1ID)
			}
		}
	}
	return nil
}

func (ip *Interpreter) onDataHeader(dh feword.DataHeader) {
	ip.counters.DataHeaders++
	if ip.ev.nDataHeader > int(ip.settings.NbCID)-1 {
		if ip.settings.AlignAtTriggerNumber {
			ip.addEventErrorCode(fehit.TruncEvent)
		}
		ip.addEvent()
	}

	if ip.ev.nDataHeader == 0 {
		ip.ev.startBCID = int(dh.BCID)
		ip.ev.startLVL1ID = int(dh.LVL1ID)
	} else {
		ip.ev.dBCID++
		size := ip.flavor.BCIDCounterSize()
		if ip.ev.startBCID+ip.ev.dBCID > size-1 {
			ip.ev.startBCID -= size
		}
		if ip.ev.startBCID+ip.ev.dBCID != int(dh.BCID) {
			switch {
			case int(dh.LVL1ID) == ip.ev.startLVL1ID:
				ip.addEventErrorCode(fehit.BCIDJump)
			case ip.settings.AlignAtTriggerNumber || ip.settings.AlignAtTdcWord:
				ip.addEventErrorCode(fehit.BCIDJump)
			default:
				ip.ev.bcidError = true
				ip.addEventErrorCode(fehit.EventIncomplete)
			}
		}
		if !ip.ev.bcidError && int(dh.LVL1ID) != ip.ev.startLVL1ID {
			ip.addEventErrorCode(fehit.NonConstLVL1ID)
		}
	}
	ip.ev.nDataHeader++
}

func (ip *Interpreter) onTrigger(tr feword.Trigger) {
	ip.counters.Triggers++
	if !ip.settings.AlignAtTriggerNumber {
		if ip.ev.nDataHeader > int(ip.settings.NbCID)-1 {
			ip.addEvent()
		}
	} else if ip.firstTriggerNrSet {
		ip.addEvent()
	}
	ip.ev.triggerWords++

	// feword.Decode already masks Value to the low 31 bits; the wire
	// format does not distinguish a trigger number from a trigger time
	// stamp, only the caller's interpretation (UseTriggerTimeStamp) does.
	triggerNumber := tr.Value

	if !ip.firstTriggerNrSet {
		ip.firstTriggerNrSet = true
	} else if !ip.settings.UseTriggerTimeStamp &&
		ip.lastTriggerNumber+1 != triggerNumber &&
		!(ip.lastTriggerNumber == ip.settings.MaxTriggerNumber && triggerNumber == 0) {
		ip.addTriggerErrorCode(fehit.TrgNumberIncError)
	}

	if ip.ev.triggerWords == 1 {
		ip.ev.eventTriggerNr = triggerNumber
	}
	ip.lastTriggerNumber = triggerNumber
}

// Flavor B's service-record counter field (the generic wire mask
// feword.Service.Counter already applies) is reinterpreted for two
// codes: 14 carries the upper LVL1ID bits, 16 carries a 5-bit ETC/time
// field at bits 4-8 of that same counter (SERVICE_RECORD_ETC_MASK_FEI4B).
const serviceRecordETCMaskFEI4B = 0x1F0

func (ip *Interpreter) onService(sr feword.Service) {
	count := uint32(sr.Counter)
	if ip.settings.FlavorB {
		switch sr.Code {
		case 14:
			// carries the upper LVL1ID bits that don't fit in the data
			// header's 5-bit field, transported with a fixed count of 1
			// for histogramming rather than its wire counter. The counter
			// value itself is the upper bits, folded into every
			// subsequent hit's LVL1ID in this event (addHit) until the
			// event ends.
			count = 1
			ip.ev.upperLVL1ID = int(sr.Counter)
		case 16:
			count = uint32(sr.Counter&serviceRecordETCMaskFEI4B) >> 4
		}
	}
	ip.addServiceRecord(sr.Code, count)
	ip.addEventErrorCode(fehit.HasSR)
	ip.counters.ServiceRecords++
}

func (ip *Interpreter) onTDC(td feword.TDC) {
	ip.counters.TDCWords++
	ip.addTdcCounter(td.Count)
	if ip.settings.UseTdcTriggerTimeStamp && td.TrigDistance > ip.settings.MaxTdcDelay {
		// trigger distance exceeds the window: this TDC word belongs to
		// a different event and is ignored.
		return
	}

	if ip.settings.AlignAtTdcWord && ip.firstTdcSet &&
		(ip.ev.nDataHeader > int(ip.settings.NbCID)-1 || ip.ev.status&fehit.TDCWord == 0) {
		ip.addEvent()
	}
	ip.firstTdcSet = true

	if ip.ev.status&fehit.TDCWord != 0 {
		if !ip.settings.UseTdcTriggerTimeStamp {
			ip.addEventErrorCode(fehit.ManyTDCWords)
		} else if td.TrigDistance != 255 {
			if ip.ev.tdcTimeStamp != 255 {
				ip.addEventErrorCode(fehit.ManyTDCWords)
			} else {
				ip.ev.tdcTimeStamp = td.TrigDistance
				ip.ev.tdcCount = td.Count
			}
		}
	} else {
		ip.addEventErrorCode(fehit.TDCWord)
		ip.ev.tdcCount = td.Count
		if !ip.settings.UseTdcTriggerTimeStamp {
			ip.ev.tdcTimeStamp = uint8(td.TimeStamp)
		} else {
			ip.ev.tdcTimeStamp = td.TrigDistance
		}
	}
	if ip.ev.tdcCount == 0 {
		ip.addEventErrorCode(fehit.TDCOverflow)
	}
}

func (ip *Interpreter) onDataRecord(dr feword.DataRecord) {
	ip.ev.nDataRecord++
	ip.counters.DataRecords++
	if dr.Hit1Valid && dr.Tot1 <= ip.settings.MaxTot {
		ip.addHit(dr.Column, dr.Row, dr.Tot1)
	}
	if dr.Hit2Valid && dr.Tot2 <= ip.settings.MaxTot {
		ip.addHit(dr.Column, dr.Row+1, dr.Tot2)
	}
}

// addHit buffers one hit into the event-local buffer, finalizing the
// event prematurely (with TruncEvent) on overflow. The hit that
// triggers the overflow is itself discarded, matching Interpret::addHit
// (it finalizes the event instead of also buffering the offending hit).
func (ip *Interpreter) addHit(col, row int, tot uint8) {
	if len(ip.hitBuffer) >= maxHitBufferSize {
		ip.addEventErrorCode(fehit.TruncEvent)
		ip.addEvent()
		return
	}
	h := fehit.Hit{
		EventNumber:   ip.counters.Events,
		TriggerNumber: ip.ev.eventTriggerNr,
		RelativeBCID:  uint8(ip.ev.dBCID),
		LVL1ID:        uint16(ip.ev.startLVL1ID | ip.ev.upperLVL1ID<<5),
		Column:        uint8(col),
		Row:           uint16(row),
		ToT:           tot,
		BCID:          uint16(ip.ev.startBCID + ip.ev.dBCID),
		TDC:           ip.ev.tdcCount,
		TDCTimeStamp:  ip.ev.tdcTimeStamp,
		ServiceRecord: ip.ev.serviceRecord,
		TriggerStatus: ip.ev.triggerStatus,
		EventStatus:   ip.ev.status,
	}
	ip.hitBuffer = append(ip.hitBuffer, h)
	if ip.ev.status&fehit.NoHit == 0 {
		ip.ev.totalHits++
	}
}

// addEvent finalizes the in-progress event: decides empty-event and
// no-trigger-word handling, stamps every buffered hit with final
// trigger/status fields, emits the meta-word-index row, and resets
// event-local scratch state.
func (ip *Interpreter) addEvent() {
	if ip.ev.totalHits == 0 {
		ip.counters.EmptyEvents++
		if ip.settings.CreateEmptyEventHits {
			ip.addEventErrorCode(fehit.NoHit)
			ip.addHit(0, 0, 0)
		}
	}
	if ip.ev.triggerWords == 0 {
		ip.addEventErrorCode(fehit.NoTrgWord)
		if ip.firstTriggerNrSet {
			ip.ev.eventTriggerNr = ip.lastTriggerNumber
		}
	}
	if ip.ev.triggerWords > 1 {
		ip.addTriggerErrorCode(fehit.TrgNumberMoreOne)
	}
	if ip.settings.UseTdcTriggerTimeStamp && ip.ev.tdcTimeStamp >= 254 {
		ip.addEventErrorCode(fehit.TDCOverflow)
	}

	ip.storeEventHits()
	if uint64(ip.ev.totalHits) > ip.counters.MaxHitsPerEvent {
		ip.counters.MaxHitsPerEvent = uint64(ip.ev.totalHits)
	}
	ip.histogramTriggerErrorCode()
	ip.histogramErrorCode()

	if ip.settings.CreateMetaDataWordIndex && ip.metaWordIndex != nil {
		if ip.actualMetaWordIndex < len(ip.metaWordIndex) {
			ip.metaWordIndex[ip.actualMetaWordIndex] = fehit.MetaWordInfoOut{
				EventIndex:     ip.counters.Events,
				StartWordIndex: ip.startWordIndex,
				StopWordIndex:  ip.dataWordIndex - 1,
			}
			ip.startWordIndex = ip.dataWordIndex - 1
			ip.actualMetaWordIndex++
		}
	}

	ip.counters.Events++
	ip.ev = event{}
}

// storeEventHits stamps every buffered hit with the event's final
// trigger number/status and flushes them into the per-chunk output.
func (ip *Interpreter) storeEventHits() {
	for i := range ip.hitBuffer {
		ip.hitBuffer[i].TriggerNumber = ip.ev.eventTriggerNr
		ip.hitBuffer[i].TriggerStatus = ip.ev.triggerStatus
		ip.hitBuffer[i].EventStatus = ip.ev.status
		ip.counters.Hits++
	}
	ip.chunkHits = append(ip.chunkHits, ip.hitBuffer...)
	ip.hitBuffer = ip.hitBuffer[:0]
}

// addEventErrorCode OR-accumulates a status bit onto the in-progress
// event. The per-bit histogram is updated once per event, from the final
// status, by histogramErrorCode in addEvent.
func (ip *Interpreter) addEventErrorCode(flag fehit.EventStatus) {
	ip.ev.status |= flag
}

// addTriggerErrorCode OR-accumulates a trigger_status bit and, matching
// Interpret::addTriggerErrorCode, also always sets the coarser
// event_status TrgError flag so a trigger anomaly is visible to callers
// that only look at event_status.
func (ip *Interpreter) addTriggerErrorCode(flag fehit.TriggerStatus) {
	ip.ev.triggerStatus |= flag
	ip.addEventErrorCode(fehit.TrgError)
}

func (ip *Interpreter) addServiceRecord(code uint8, count uint32) {
	ip.ev.serviceRecord |= 1 << uint(code%32)
	if int(code) < numServiceRecordCodes {
		ip.counters.ServiceRecordCount[code] += count
	}
}

func (ip *Interpreter) addTdcCounter(count uint16) {
	if int(count) < numTdcValues {
		ip.counters.TDCCount[count]++
	}
}

// histogramErrorCode increments the per-bit-position counter for every
// flag set in the finalized event's status.
func (ip *Interpreter) histogramErrorCode() {
	for bit := 0; bit < len(ip.counters.EventErrorCount); bit++ {
		if ip.ev.status&(1<<uint(bit)) != 0 {
			ip.counters.EventErrorCount[bit]++
		}
	}
}

func (ip *Interpreter) histogramTriggerErrorCode() {
	for bit := 0; bit < len(ip.counters.TriggerErrorCount); bit++ {
		if ip.ev.triggerStatus&(1<<uint(bit)) != 0 {
			ip.counters.TriggerErrorCount[bit]++
		}
	}
}

// correlateMetaWordIndex advances the single monotone readout cursor,
// writing the current event number into metaEventIndex whenever the word
// index reaches the cursor's stop_index. Zero-length readouts are
// tolerated: they receive the same event number and the cursor advances
// in a tight loop.
func (ip *Interpreter) correlateMetaWordIndex(eventNumber int64, wordIndex uint32) {
	if !ip.metaTableSet || wordIndex != ip.lastWordIndexSet {
		return
	}
	if ip.lastMetaIndexNotSet >= len(ip.readouts) {
		return
	}
	if ip.metaEventIndex != nil && ip.lastMetaIndexNotSet < len(ip.metaEventIndex) {
		ip.metaEventIndex[ip.lastMetaIndexNotSet] = eventNumber
	}
	ip.lastWordIndexSet = ip.readouts[ip.lastMetaIndexNotSet].StopIndex
	ip.lastMetaIndexNotSet++
	for ip.lastMetaIndexNotSet < len(ip.readouts) &&
		ip.readouts[ip.lastMetaIndexNotSet-1].Length == 0 {
		if ip.metaEventIndex != nil && ip.lastMetaIndexNotSet < len(ip.metaEventIndex) {
			ip.metaEventIndex[ip.lastMetaIndexNotSet] = eventNumber
		}
		ip.lastWordIndexSet = ip.readouts[ip.lastMetaIndexNotSet].StopIndex
		ip.lastMetaIndexNotSet++
	}
}
