package model

import "time"

// Gender 联系人性别
type Gender string

const (
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderFemale, GenderMale, GenderOther, GenderUnknown:
		return true
	}
	return false
}

// Contact 联系人（由 CRUD 服务维护，这里只读）
type Contact struct {
	BaseModel
	StoreID    int64      `gorm:"not null;index:idx_contacts_store_opt,priority:1;uniqueIndex:idx_contacts_store_phone,priority:1" json:"store_id"`
	Phone      string     `gorm:"type:varchar(20);not null;uniqueIndex:idx_contacts_store_phone,priority:2" json:"phone"`
	FirstName  string     `gorm:"type:varchar(64)" json:"first_name"`
	Gender     Gender     `gorm:"type:varchar(16);not null;default:'unknown'" json:"gender"`
	OptedIn    bool       `gorm:"not null;default:false;index:idx_contacts_store_opt,priority:2" json:"opted_in"`
	OptedOutAt *time.Time `gorm:"type:timestamptz" json:"opted_out_at,omitempty"`
}

// TableName 指定表名
func (Contact) TableName() string {
	return "contacts"
}

// Segment 商家定义的联系人分组
type Segment struct {
	BaseModel
	StoreID int64  `gorm:"not null;index" json:"store_id"`
	Name    string `gorm:"type:varchar(128);not null" json:"name"`
}

// TableName 指定表名
func (Segment) TableName() string {
	return "segments"
}

// SegmentMember 分组成员关系
type SegmentMember struct {
	SegmentID int64     `gorm:"primaryKey;autoIncrement:false" json:"segment_id"`
	ContactID int64     `gorm:"primaryKey;autoIncrement:false;index" json:"contact_id"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

// TableName 指定表名
func (SegmentMember) TableName() string {
	return "segment_members"
}

// AudienceMember 受众解析结果：一个联系人与其手机号
type AudienceMember struct {
	ContactID int64  `json:"contact_id"`
	Phone     string `json:"phone"`
}
