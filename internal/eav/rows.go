package eav

import "time"

const (
	tableApplications = "eav_applications"
	tableDomains      = "eav_domains"
	tableEntities     = "eav_entities"
	tableAttributes   = "eav_attributes"
	tableTexts        = "eav_texts"
	tableNumerics     = "eav_numerics"
	tableDocuments    = "eav_documents"
	tableFiles        = "eav_files"
)

// valueTables lists every typed store an attribute may own.
var valueTables = []string{tableTexts, tableNumerics, tableDocuments, tableFiles}

type applicationRow struct {
	ID        uint   `gorm:"primaryKey"`
	Key       string `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time
}

func (applicationRow) TableName() string { return tableApplications }

type domainRow struct {
	ID            uint   `gorm:"primaryKey"`
	ApplicationID uint   `gorm:"not null;uniqueIndex:idx_eav_domains_app_key"`
	Key           string `gorm:"not null;uniqueIndex:idx_eav_domains_app_key"`
	CreatedAt     time.Time
}

func (domainRow) TableName() string { return tableDomains }

// entityRow keeps the caller-facing id in Key; ID only orders rows.
type entityRow struct {
	ID        uint   `gorm:"primaryKey"`
	DomainID  uint   `gorm:"not null;uniqueIndex:idx_eav_entities_domain_key"`
	Key       string `gorm:"not null;uniqueIndex:idx_eav_entities_domain_key"`
	CreatedAt time.Time
}

func (entityRow) TableName() string { return tableEntities }

type attributeRow struct {
	ID        uint   `gorm:"primaryKey"`
	EntityID  uint   `gorm:"not null;uniqueIndex:idx_eav_attributes_entity_key"`
	Key       string `gorm:"not null;uniqueIndex:idx_eav_attributes_entity_key"`
	CreatedAt time.Time
}

func (attributeRow) TableName() string { return tableAttributes }

// valueRow is shared by the four value tables; callers always name the table.
type valueRow[T any] struct {
	ID          uint `gorm:"primaryKey"`
	AttributeID uint `gorm:"not null;uniqueIndex"`
	Value       T
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
