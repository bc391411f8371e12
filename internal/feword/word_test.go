package feword

import "testing"

func encodeDataRecord(col, row int, tot1, tot2 uint8) uint32 {
	return uint32(col)<<17 | uint32(row)<<8 | uint32(tot1)<<4 | uint32(tot2)
}

func TestDecodeDataRecordTwoHits(t *testing.T) {
	w := encodeDataRecord(1, 14, 8, 7)
	got := Decode(w, FlavorA)
	dr, ok := got.(DataRecord)
	if !ok {
		t.Fatalf("Decode(%#x) = %#v, want DataRecord", w, got)
	}
	if dr.Column != 1 || dr.Row != 14 || dr.Tot1 != 8 || dr.Tot2 != 7 {
		t.Fatalf("got %+v, want col=1 row=14 tot1=8 tot2=7", dr)
	}
	if !dr.Hit1Valid || !dr.Hit2Valid {
		t.Fatalf("got %+v, want both hits valid", dr)
	}
}

func TestDecodeDataRecordNoHitTot(t *testing.T) {
	w := encodeDataRecord(5, 5, 0xF, 3)
	dr := Decode(w, FlavorA).(DataRecord)
	if dr.Hit1Valid {
		t.Fatalf("ToT=0xF must not be a valid hit")
	}
	if !dr.Hit2Valid {
		t.Fatalf("ToT=3 must be a valid hit")
	}
}

func TestDecodeDataRecordOutOfRangeIsUnknown(t *testing.T) {
	w := encodeDataRecord(0, 5, 1, 1) // column 0 is out of [1..80]
	got := Decode(w, FlavorA)
	if _, ok := got.(Unknown); !ok {
		t.Fatalf("Decode(%#x) = %#v, want Unknown", w, got)
	}
}

func TestDecodeDataHeaderFlavorA(t *testing.T) {
	w := uint32(identDH) | 1<<8 | 100 // LVL1ID=1, BCID=100
	dh := Decode(w, FlavorA).(DataHeader)
	if dh.LVL1ID != 1 || dh.BCID != 100 {
		t.Fatalf("got %+v, want LVL1ID=1 BCID=100", dh)
	}
}

func TestDecodeDataHeaderFlavorB(t *testing.T) {
	w := uint32(identDH) | 3<<10 | 500 // LVL1ID=3, BCID=500
	dh := Decode(w, FlavorB).(DataHeader)
	if dh.LVL1ID != 3 || dh.BCID != 500 {
		t.Fatalf("got %+v, want LVL1ID=3 BCID=500", dh)
	}
}

func TestDecodeTrigger(t *testing.T) {
	w := uint32(0x80000000) | 42
	tr := Decode(w, FlavorA).(Trigger)
	if tr.Value != 42 {
		t.Fatalf("got Value=%d, want 42", tr.Value)
	}
}

func TestDecodeService(t *testing.T) {
	w := uint32(identSR) | 14<<10 | 5
	sr := Decode(w, FlavorB).(Service)
	if sr.Code != 14 || sr.Counter != 5 {
		t.Fatalf("got %+v, want Code=14 Counter=5", sr)
	}
}

func TestDecodeTDC(t *testing.T) {
	// The trigger distance is the time stamp's top 8 bits (bits 27..20),
	// so a time stamp of 0x7E8 carries a trigger distance of 7.
	w := uint32(identTDC) | 0x7E8<<12 | 99
	td := Decode(w, FlavorA).(TDC)
	if td.Count != 99 || td.TimeStamp != 0x7E8 || td.TrigDistance != 7 {
		t.Fatalf("got %+v, want Count=99 TimeStamp=2024 TrigDistance=7", td)
	}
}

func TestDecodeAddressAndValueRecords(t *testing.T) {
	ar := Decode(uint32(identAR)|0x1234, FlavorA).(AddressRecord)
	if ar.Address != 0x1234 {
		t.Fatalf("got Address=%#x, want 0x1234", ar.Address)
	}
	vr := Decode(uint32(identVR)|0xBEEF, FlavorA).(ValueRecord)
	if vr.Value != 0xBEEF {
		t.Fatalf("got Value=%#x, want 0xbeef", vr.Value)
	}
}

func TestBCIDCounterSize(t *testing.T) {
	if FlavorA.BCIDCounterSize() != 256 {
		t.Fatalf("flavor A BCID counter size = %d, want 256", FlavorA.BCIDCounterSize())
	}
	if FlavorB.BCIDCounterSize() != 1024 {
		t.Fatalf("flavor B BCID counter size = %d, want 1024", FlavorB.BCIDCounterSize())
	}
}
