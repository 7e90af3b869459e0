package versions

import (
	"fmt"
	"log"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/tenancy"

	"gorm.io/gorm"
)

// Migration_1_unique_vote_index backfills the unique (opinion_id, user_hash)
// index on namespaces provisioned before it was part of the table set.
func Migration_1_unique_vote_index(dialect tenancy.Dialect) func(*gorm.DB) error {
	return func(db *gorm.DB) error {
		var surveys []schema.Survey
		if err := db.Select("id", "namespace").Find(&surveys).Error; err != nil {
			return fmt.Errorf("error listing surveys: %w", err)
		}

		for _, survey := range surveys {
			ns, err := tenancy.ParseNamespace(survey.Namespace)
			if err != nil {
				return err
			}

			if _, err := dialect.Prepare(db, ns); err != nil {
				return err
			}

			exists, err := dialect.TablesExist(db, ns)
			if err != nil {
				return fmt.Errorf("error checking tables of namespace %v: %w", ns, err)
			}
			if !exists {
				log.Printf("skipping namespace %v of survey %v, tables are missing", ns, survey.Id)
				continue
			}

			err = db.Transaction(func(txn *gorm.DB) error {
				return dialect.EnsureUniqueVotes(txn, ns)
			})
			if err != nil {
				return fmt.Errorf("error adding unique vote index to namespace %v: %w", ns, err)
			}
			log.Printf("added unique vote index to namespace %v", ns)
		}

		return nil
	}
}
