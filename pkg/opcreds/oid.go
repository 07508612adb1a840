package opcreds

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strconv"
)

// Matter-specific DN OIDs under the CSA private arc 1.3.6.1.4.1.37244.
// Matter Specification Section 6.1.1, Table 83
var (
	OIDMatterNodeID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 1}
	OIDMatterICACID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 3}
	OIDMatterRCACID   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 4}
	OIDMatterFabricID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 5}
	OIDMatterNOCCAT   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 1, 6}

	// Device attestation OIDs (VID/PID in PAI and DAC subjects).
	OIDMatterVendorID  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 2, 1}
	OIDMatterProductID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37244, 2, 2}
)

// matterAttr returns a DN attribute holding v as fixed-width uppercase hex,
// the X.509 form of Matter-specific attributes.
func matterAttr(oid asn1.ObjectIdentifier, v uint64, hexDigits int) pkix.AttributeTypeAndValue {
	return pkix.AttributeTypeAndValue{
		Type:  oid,
		Value: fmt.Sprintf("%0*X", hexDigits, v),
	}
}

func id64(oid asn1.ObjectIdentifier, v uint64) pkix.AttributeTypeAndValue {
	return matterAttr(oid, v, 16)
}

func id32(oid asn1.ObjectIdentifier, v uint32) pkix.AttributeTypeAndValue {
	return matterAttr(oid, uint64(v), 8)
}

func id16(oid asn1.ObjectIdentifier, v uint16) pkix.AttributeTypeAndValue {
	return matterAttr(oid, uint64(v), 4)
}

// lookupAttr finds oid in name and parses its hex value. bits bounds the
// accepted width.
func lookupAttr(name pkix.Name, oid asn1.ObjectIdentifier, bits int) (uint64, error) {
	for _, atv := range name.Names {
		if !atv.Type.Equal(oid) {
			continue
		}
		s, ok := atv.Value.(string)
		if !ok || len(s) != bits/4 {
			return 0, fmt.Errorf("%w: %v has malformed value %v", ErrMissingAttribute, oid, atv.Value)
		}
		v, err := strconv.ParseUint(s, 16, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %v: %v", ErrMissingAttribute, oid, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrMissingAttribute, oid)
}
