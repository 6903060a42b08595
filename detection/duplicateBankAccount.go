package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
)

// DuplicateBankAccountDetector finds accounts and mobile money numbers shared by
// more than one staff member.
type DuplicateBankAccountDetector struct {
	base
	cipher utils.Cipher
}

func NewDuplicateBankAccountDetector(deps Deps, cipher utils.Cipher) *DuplicateBankAccountDetector {
	return &DuplicateBankAccountDetector{base: base{deps}, cipher: cipher}
}

type DuplicateAccountStatistics struct {
	TotalDuplicateDiscrepancies int64 `json:"total_duplicate_discrepancies"`
	OpenDuplicateDiscrepancies  int64 `json:"open_duplicate_discrepancies"`
	UniqueDuplicateAccounts     int   `json:"unique_duplicate_accounts"`
	StaffWithDuplicateAccounts  int   `json:"staff_with_duplicate_accounts"`
}

// cluster is one shared identifier and the distinct staff holding it, in first-seen order.
type cluster struct {
	key      string
	bankName string
	staffIds []int
}

type clusterSet struct {
	byKey map[string]*cluster
	keys  []string
}

func newClusterSet() *clusterSet {
	return &clusterSet{byKey: make(map[string]*cluster)}
}

func (cs *clusterSet) add(key string, staffId int, bankName string) {
	c, ok := cs.byKey[key]
	if !ok {
		c = &cluster{key: key, bankName: bankName}
		cs.byKey[key] = c
		cs.keys = append(cs.keys, key)
	}
	for _, id := range c.staffIds {
		if id == staffId {
			return
		}
	}
	c.staffIds = append(c.staffIds, staffId)
}

// shared returns the clusters held by more than one staff member.
func (cs *clusterSet) shared() []*cluster {
	var out []*cluster
	for _, k := range cs.keys {
		if c := cs.byKey[k]; len(c.staffIds) > 1 {
			out = append(out, c)
		}
	}
	return out
}

// Detect runs the bank account pass.
func (d *DuplicateBankAccountDetector) Detect(ctx context.Context) (int, error) {
	ctx, span := d.startSpan(ctx, "detect.duplicate_bank_account")
	defer span.End()

	clusters, err := d.accountClusters(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	created, err := d.emit(ctx, clusters, RuleSharedBankAccount, func(c *cluster, others []string) string {
		return fmt.Sprintf(
			"Staff member shares bank account %s at %s with %d other staff member(s): %s. This is a critical fraud indicator. All staff sharing this account should be investigated immediately.",
			utils.MaskAccountNumber(c.key), c.bankName, len(others), strings.Join(others, ", "))
	})
	if err != nil {
		span.RecordError(err)
		return created, err
	}
	d.Logger.WithFields(logrus.Fields{"detector": "duplicate_bank_account", "created": created}).Info("duplicate bank account detection finished")
	return created, nil
}

// DetectMobileMoney runs the mobile money pass.
func (d *DuplicateBankAccountDetector) DetectMobileMoney(ctx context.Context) (int, error) {
	ctx, span := d.startSpan(ctx, "detect.duplicate_mobile_money")
	defer span.End()

	clusters, err := d.mobileMoneyClusters(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	created, err := d.emit(ctx, clusters, RuleSharedMobileMoney, func(c *cluster, others []string) string {
		return fmt.Sprintf(
			"Staff member shares mobile money number %s with %d other staff member(s): %s. This requires immediate investigation.",
			c.key, len(others), strings.Join(others, ", "))
	})
	if err != nil {
		span.RecordError(err)
		return created, err
	}
	d.Logger.WithFields(logrus.Fields{"detector": "duplicate_mobile_money", "created": created}).Info("duplicate mobile money detection finished")
	return created, nil
}

// accountClusters decrypts every active account. Rows that fail to decrypt are logged and left out.
func (d *DuplicateBankAccountDetector) accountClusters(ctx context.Context) ([]*cluster, error) {
	var details []models.BankDetail
	if err := d.db(ctx).Preload("Bank").
		Joins("JOIN staff ON staff.id = bank_details.staff_id AND staff.deleted_at IS NULL").
		Where("bank_details.is_active = ?", true).
		Order("bank_details.id").
		Find(&details).Error; err != nil {
		return nil, err
	}

	set := newClusterSet()
	for i := range details {
		bd := &details[i]
		plain, err := bd.DecryptAccountNumber(d.cipher)
		if err != nil {
			config.LogError(d.Logger, moduleName, "accountClusters", "failed to decrypt account number",
				map[string]int{"bank_detail_id": bd.ID}, err)
			continue
		}
		bankName := "Unknown Bank"
		if bd.Bank != nil && bd.Bank.Name != "" {
			bankName = bd.Bank.Name
		}
		set.add(utils.NormalizeAccountNumber(plain), bd.StaffId, bankName)
	}
	return set.shared(), nil
}

func (d *DuplicateBankAccountDetector) mobileMoneyClusters(ctx context.Context) ([]*cluster, error) {
	var staff []models.Staff
	if err := d.db(ctx).Select("id", "mobile_money_number").
		Where("mobile_money_number IS NOT NULL AND mobile_money_number <> ''").
		Order("id").
		Find(&staff).Error; err != nil {
		return nil, err
	}
	set := newClusterSet()
	for _, s := range staff {
		number := strings.TrimSpace(*s.MobileMoneyNumber)
		if normalized, err := utils.NormalizePhoneNumber(number, utils.CountryCode); err == nil {
			number = normalized
		}
		set.add(number, s.ID, "")
	}
	return set.shared(), nil
}

func (d *DuplicateBankAccountDetector) emit(ctx context.Context, clusters []*cluster, rule string, describe func(*cluster, []string) string) (int, error) {
	if len(clusters) == 0 {
		return 0, nil
	}
	var ids []int
	for _, c := range clusters {
		ids = append(ids, c.staffIds...)
	}
	staff, err := d.loadStaff(ctx, utils.UniqueSlice(ids))
	if err != nil {
		return 0, err
	}

	created := 0
	for _, c := range clusters {
		for _, staffId := range c.staffIds {
			if _, ok := staff[staffId]; !ok {
				continue
			}
			exists, err := d.exists(ctx, staffId, models.DiscrepancyTypeDuplicateBankAccount)
			if err != nil {
				d.logSkip("emit", staffId, err)
				continue
			}
			if exists {
				continue
			}
			var others []string
			for _, otherId := range c.staffIds {
				if other, ok := staff[otherId]; ok && otherId != staffId {
					others = append(others, other.FullName())
				}
			}
			now := d.now()
			err = d.create(ctx, Finding{
				StaffId:     staffId,
				Type:        models.DiscrepancyTypeDuplicateBankAccount,
				Rule:        rule,
				Severity:    models.SeverityCritical,
				Description: describe(c, others),
				IncidentAt:  &now,
			})
			if err != nil {
				d.logSkip("emit", staffId, err)
				continue
			}
			created++
		}
	}
	return created, nil
}

func (d *DuplicateBankAccountDetector) Statistics(ctx context.Context) (DuplicateAccountStatistics, error) {
	var stats DuplicateAccountStatistics
	var err error
	stats.TotalDuplicateDiscrepancies, stats.OpenDuplicateDiscrepancies, _, err =
		countByStatus(ctx, d.DB, models.DiscrepancyTypeDuplicateBankAccount)
	if err != nil {
		return stats, err
	}
	clusters, err := d.accountClusters(ctx)
	if err != nil {
		return stats, err
	}
	staff := make(map[int]struct{})
	for _, c := range clusters {
		for _, id := range c.staffIds {
			staff[id] = struct{}{}
		}
	}
	stats.UniqueDuplicateAccounts = len(clusters)
	stats.StaffWithDuplicateAccounts = len(staff)
	return stats, nil
}
