package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"BulkSMS/pkg/errors"
)

// AudienceKind 受众选择器类型
type AudienceKind string

const (
	AudienceAll     AudienceKind = "all"     // 全部已订阅联系人
	AudienceGender  AudienceKind = "gender"  // 按性别子集
	AudienceSegment AudienceKind = "segment" // 指定分组成员
)

// AudienceSelector 受众选择器，文本形式为 all / gender:female,male / segment:42
type AudienceSelector struct {
	Kind      AudienceKind `json:"kind"`
	Genders   []Gender     `json:"genders,omitempty"`
	SegmentID int64        `json:"segment_id,omitempty"`
}

// AllOptedIn 全部已订阅联系人
func AllOptedIn() AudienceSelector {
	return AudienceSelector{Kind: AudienceAll}
}

// ForSegment 指定分组
func ForSegment(segmentID int64) AudienceSelector {
	return AudienceSelector{Kind: AudienceSegment, SegmentID: segmentID}
}

// ForGenders 指定性别子集
func ForGenders(genders ...Gender) AudienceSelector {
	return AudienceSelector{Kind: AudienceGender, Genders: genders}
}

// ParseAudienceSelector 解析文本形式的选择器
func ParseAudienceSelector(raw string) (AudienceSelector, error) {
	raw = strings.TrimSpace(raw)
	kind, arg, _ := strings.Cut(raw, ":")

	switch AudienceKind(strings.ToLower(kind)) {
	case AudienceAll:
		if arg != "" {
			return AudienceSelector{}, errors.InvalidSelector.WithMessage("selector 'all' takes no argument")
		}
		return AllOptedIn(), nil
	case AudienceGender:
		var genders []Gender
		for _, part := range strings.Split(arg, ",") {
			g := Gender(strings.ToLower(strings.TrimSpace(part)))
			if g == "" {
				continue
			}
			if !g.Valid() {
				return AudienceSelector{}, errors.InvalidSelector.WithMessage(fmt.Sprintf("unknown gender %q", part))
			}
			genders = append(genders, g)
		}
		sel := ForGenders(genders...)
		return sel, sel.Validate()
	case AudienceSegment:
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			return AudienceSelector{}, errors.InvalidSelector.WithMessage(fmt.Sprintf("invalid segment id %q", arg))
		}
		sel := ForSegment(id)
		return sel, sel.Validate()
	default:
		return AudienceSelector{}, errors.InvalidSelector.WithMessage(fmt.Sprintf("unknown selector %q", raw))
	}
}

// Validate 校验选择器结构
func (s AudienceSelector) Validate() error {
	switch s.Kind {
	case AudienceAll:
		return nil
	case AudienceGender:
		if len(s.Genders) == 0 {
			return errors.InvalidSelector.WithMessage("gender selector needs at least one gender")
		}
		for _, g := range s.Genders {
			if !g.Valid() {
				return errors.InvalidSelector.WithMessage(fmt.Sprintf("unknown gender %q", g))
			}
		}
		return nil
	case AudienceSegment:
		if s.SegmentID <= 0 {
			return errors.InvalidSelector.WithMessage("segment selector needs a positive id")
		}
		return nil
	default:
		return errors.InvalidSelector
	}
}

func (s AudienceSelector) String() string {
	switch s.Kind {
	case AudienceGender:
		parts := make([]string, 0, len(s.Genders))
		for _, g := range s.Genders {
			parts = append(parts, string(g))
		}
		sort.Strings(parts)
		return "gender:" + strings.Join(parts, ",")
	case AudienceSegment:
		return "segment:" + strconv.FormatInt(s.SegmentID, 10)
	default:
		return string(s.Kind)
	}
}

func (s AudienceSelector) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *AudienceSelector) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*s = AudienceSelector{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal audience selector: unsupported type %T", value)
	}
	return json.Unmarshal(data, s)
}
