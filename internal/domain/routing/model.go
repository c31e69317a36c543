// Package routing holds the configuration that maps inbound traffic to its
// origin: HL7 application configs for clinical messages and registered
// source/destination applications for imaging traffic.
package routing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DataLinkType selects which identifier in a clinical message links it to a
// remote-execution record.
type DataLinkType string

const (
	LinkPatientID        DataLinkType = "PatientId"
	LinkStudyInstanceUID DataLinkType = "StudyInstanceUid"
)

var validDataLinkTypes = map[DataLinkType]bool{
	LinkPatientID:        true,
	LinkStudyInstanceUID: true,
}

// HL7Config describes how messages from one sending application are matched
// and enriched. SendingIDField and DataLinkField are HL7 paths such as
// "MSH-3" or "PID-3.1"; DataMappings maps HL7 paths to DICOM tag keywords
// whose original values are restored before dispatch.
type HL7Config struct {
	ID             uuid.UUID         `json:"id"`
	Name           string            `json:"name"`
	SendingIDField string            `json:"sending_id_field"`
	SendingIDValue string            `json:"sending_id_value"`
	DataLinkField  string            `json:"data_link_field"`
	DataLinkType   DataLinkType      `json:"data_link_type"`
	DataMappings   map[string]string `json:"data_mappings"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Validate checks the config is complete enough to match and map messages.
func (c *HL7Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.SendingIDField == "" || c.SendingIDValue == "" {
		return fmt.Errorf("sending_id_field and sending_id_value are required")
	}
	if c.DataLinkField == "" {
		return fmt.Errorf("data_link_field is required")
	}
	if !validDataLinkTypes[c.DataLinkType] {
		return fmt.Errorf("invalid data_link_type: %s", c.DataLinkType)
	}
	for path, tag := range c.DataMappings {
		if path == "" || tag == "" {
			return fmt.Errorf("data_mappings entries must have both an HL7 path and a DICOM tag")
		}
	}
	return nil
}

// Matches reports whether a message belongs to this config. valueAt resolves
// an HL7 path against the message.
func (c *HL7Config) Matches(valueAt func(path string) string) bool {
	return c.SendingIDValue != "" && valueAt(c.SendingIDField) == c.SendingIDValue
}

// SourceApplication is a registered origin for imaging traffic, identified by
// its application entity title.
type SourceApplication struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AETitle   string    `json:"ae_title"`
	HostIP    string    `json:"host_ip"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the registration fields.
func (a *SourceApplication) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validateAETitle(a.AETitle); err != nil {
		return err
	}
	if a.HostIP == "" {
		return fmt.Errorf("host_ip is required")
	}
	return nil
}

// DestinationApplication is a registered target for processed results.
type DestinationApplication struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AETitle   string    `json:"ae_title"`
	HostIP    string    `json:"host_ip"`
	Port      int       `json:"port"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the registration fields.
func (a *DestinationApplication) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validateAETitle(a.AETitle); err != nil {
		return err
	}
	if a.HostIP == "" {
		return fmt.Errorf("host_ip is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// AE titles are at most 16 characters of printable ASCII per the DICOM
// standard.
func validateAETitle(aet string) error {
	if aet == "" {
		return fmt.Errorf("ae_title is required")
	}
	if len(aet) > 16 {
		return fmt.Errorf("ae_title must be at most 16 characters")
	}
	for _, r := range aet {
		if r < 0x20 || r > 0x7e || r == '\\' {
			return fmt.Errorf("ae_title contains invalid character %q", r)
		}
	}
	return nil
}
