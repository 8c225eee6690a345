package extract

import "testing"

func TestExtractBestManufacturer(t *testing.T) {
	tests := []struct {
		input       string
		wantMfr     string
		wantProduct string
	}{
		{"The HP LaserJet Pro M404 has a paper jam", "HP", "LaserJet"},
		{"Canon imageRUNNER ADVANCE C3530i toner replacement", "Canon", "imageRUNNER"},
		{"Xerox WorkCentre 6515 fuser error", "Xerox", "WorkCentre"},
		{"Ricoh Aficio MP 2554 drum unit", "Ricoh", "Aficio"},
		{"service manual for this Brother printer", "Brother", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m := ExtractBestManufacturer(tt.input)
			if m == nil {
				t.Fatalf("ExtractBestManufacturer(%q) = nil, want match", tt.input)
			}
			if m.Manufacturer != tt.wantMfr {
				t.Errorf("Manufacturer = %q, want %q", m.Manufacturer, tt.wantMfr)
			}
			if m.Product != tt.wantProduct {
				t.Errorf("Product = %q, want %q", m.Product, tt.wantProduct)
			}
		})
	}
}

func TestExtractManufacturersEmpty(t *testing.T) {
	if m := ExtractBestManufacturer(""); m != nil {
		t.Error("expected nil for empty string")
	}
	if m := ExtractBestManufacturer("nothing about printers here"); m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
}

func TestExtractManufacturersMultiple(t *testing.T) {
	matches := ExtractManufacturers("Replaced the fuser in an HP LaserJet M404, customer also had a Canon imageCLASS unit")
	if len(matches) < 2 {
		t.Fatalf("expected at least 2 matches, got %d", len(matches))
	}
}

func TestExtractManufacturersCaseInsensitive(t *testing.T) {
	m := ExtractBestManufacturer("the hp officejet keeps jamming")
	if m == nil || m.Manufacturer != "HP" || m.Product != "OfficeJet" {
		t.Errorf("case insensitive failed: %+v", m)
	}
}

func TestExtractErrorCodesHP(t *testing.T) {
	matches := ExtractErrorCodes("The printer displayed Error 13.20.05 during the jam", "HP")
	if len(matches) != 1 || matches[0].Code != "13.20.05" {
		t.Fatalf("got %+v, want one match for 13.20.05", matches)
	}
}

func TestExtractErrorCodesUnknownManufacturerYieldsNothing(t *testing.T) {
	matches := ExtractErrorCodes("Error 13.20.05", "Unknown Manufacturer")
	if matches != nil {
		t.Fatalf("expected no matches for unrecognized manufacturer, got %+v", matches)
	}
}

func TestExtractErrorCodesRicoh(t *testing.T) {
	matches := ExtractErrorCodes("Service required: SC542 detected on startup", "Ricoh")
	if len(matches) != 1 || matches[0].Code != "SC542" {
		t.Fatalf("got %+v, want one match for SC542", matches)
	}
}

func TestExtractErrorCodesDedupes(t *testing.T) {
	matches := ExtractErrorCodes("Error 13.20.05 recurred: 13.20.05 again", "HP")
	if len(matches) != 1 {
		t.Fatalf("expected dedup to one match, got %d", len(matches))
	}
}

func TestExtractPartNumbers(t *testing.T) {
	matches := ExtractPartNumbers("Replace fuser assembly RM2-5741 and transfer roller CE710-40002", "HP")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(matches), matches)
	}
}
